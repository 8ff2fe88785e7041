package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/brickflow/yaml"
)

// validation is the outcome for one definition file.
type validation struct {
	File   string `json:"file"`
	Valid  bool   `json:"valid"`
	Name   string `json:"name,omitempty"`
	Steps  int    `json:"steps,omitempty"`
	Bricks int    `json:"bricks,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrInvalidDefinitions is returned when any file fails validation.
var ErrInvalidDefinitions = errors.New("invalid pipeline definitions")

// NewValidateCommand creates the validate command.
func NewValidateCommand(g *globals) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Validate pipeline definitions",
		Long: `Validate pipeline definitions without running them. Every brick id
must resolve to a built-in, script or plugin brick. Directories are expanded
to the .yaml, .yml and .json files they contain.`,
		Example: `  # Validate one file
  brickflow validate greet.yaml

  # Validate a directory of pipelines
  brickflow validate pipelines/ --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(cmd, g, args, workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "Files to validate concurrently")
	return cmd
}

func validateFiles(cmd *cobra.Command, g *globals, args []string, workers int) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := g.load(cmd)
	if err != nil {
		return err
	}
	env, err := newEnvironment(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close(ctx)

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	loader := yaml.NewLoader(yaml.WithResolver(env.registry))
	results := make([]validation, len(files))

	var eg errgroup.Group
	eg.SetLimit(max(workers, 1))
	for i, file := range files {
		eg.Go(func() error {
			res := validation{File: file}
			def, err := loader.LoadFile(ctx, file)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Valid = true
				res.Name = def.Name
				res.Steps = len(def.Pipeline)
				res.Bricks = len(def.BrickIDs())
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, res := range results {
		if !res.Valid {
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if g.output == jsonFormat || g.output == yamlFormat {
		if err := printValue(out, g.output, results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(out, "ok    %s (%s, %d steps)\n", res.File, res.Name, res.Steps)
			} else {
				fmt.Fprintf(out, "FAIL  %s: %s\n", res.File, res.Error)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d failed", ErrInvalidDefinitions, failed, len(results))
	}
	return nil
}

// expandFiles replaces directories with the definition files they contain.
func expandFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		path, err := expandPath(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("file not found: %s", arg)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := yaml.DefinitionFiles(path)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}
