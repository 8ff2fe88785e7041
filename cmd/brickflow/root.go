package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/brickflow/internal/config"
	"github.com/agentstation/brickflow/logging"
)

// Output format constants.
const (
	jsonFormat = "json"
	yamlFormat = "yaml"
	textFormat = "text"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	configFile string
	verbose    bool
	output     string
	logJSON    bool
}

// NewRootCommand creates the brickflow command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "brickflow",
		Short: "Run declarative brick pipelines",
		Long: `Brickflow runs declarative pipelines of bricks.

A pipeline is an ordered list of steps. Each step names a brick, renders its
configuration against the execution context and folds the brick's output
back into that context.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Config file (default ./"+config.DefaultFile+" if present)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().StringVar(&g.output, "output", textFormat, "Output format (text, json, yaml)")
	cmd.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Write logs as JSON")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		NewRunCommand(g),
		NewValidateCommand(g),
		NewBricksCommand(g),
		NewVersionCommand(g),
	)
	return cmd
}

// load reads the configuration and builds the logger for a command.
func (g *globals) load(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, nil, err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.Level = logging.Level(cfg.Log.Level)
	logCfg.JSON = cfg.Log.JSON || g.logJSON
	if g.verbose {
		logCfg.Level = logging.DebugLevel
	}
	return cfg, logging.New(logCfg), nil
}
