package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/middleware"
	"github.com/agentstation/brickflow/telemetry"
	"github.com/agentstation/brickflow/yaml"
)

// runOptions holds the run command flags.
type runOptions struct {
	input      string
	apiVersion string
	dryRun     bool
	trace      bool
	metrics    bool
	timeout    time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(g *globals) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a pipeline definition",
		Long: `Run a pipeline definition from a YAML or JSON file and print its
terminal value.`,
		Example: `  # Run a pipeline
  brickflow run greet.yaml

  # Override the definition input
  brickflow run greet.yaml --input '{"name": "Ada"}'
  brickflow run greet.yaml --input @input.json

  # Check the definition without running it
  brickflow run greet.yaml --dry-run

  # Print OpenTelemetry spans and Prometheus metrics to stderr
  brickflow run greet.yaml --trace --metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, g, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Pipeline input as JSON/YAML, @file or - for stdin")
	cmd.Flags().StringVar(&opts.apiVersion, "api-version", "", "API version (v1, v2, v3); overrides the definition")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate the definition without running it")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Print a span per step to stderr")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Print brick metrics to stderr after the run")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the run after this duration (0 = no limit)")
	return cmd
}

func runPipeline(cmd *cobra.Command, g *globals, opts *runOptions, file string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := g.load(cmd)
	if err != nil {
		return err
	}

	path, err := expandPath(file)
	if err != nil {
		return fmt.Errorf("expand path: %w", err)
	}

	env, err := newEnvironment(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close(ctx)

	def, err := yaml.NewLoader(yaml.WithResolver(env.registry)).LoadFile(ctx, path)
	if err != nil {
		return err
	}

	version := def.APIVersionOr(cfg.Version())
	if opts.apiVersion != "" {
		version = brickflow.Version(opts.apiVersion)
	}
	if _, err := brickflow.PolicyFor(version); err != nil {
		return err
	}
	logger.Debug(ctx, "loaded pipeline", "name", def.Name, "version", version, "steps", len(def.Pipeline))

	if opts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s is valid (%d steps, %s)\n", def.Name, len(def.Pipeline), version)
		return nil
	}

	input, err := parseInput(opts.input, cmd.InOrStdin())
	if err != nil {
		return err
	}

	engineOpts := []brickflow.EngineOption{
		brickflow.WithLogger(logger),
		brickflow.WithTemplateCacheSize(cfg.Engine.TemplateCacheSize),
		brickflow.WithOutputValidation(cfg.Engine.ValidateOutput),
	}
	if g.verbose {
		engineOpts = append(engineOpts, brickflow.WithMiddleware(middleware.Logging(logger)))
	}

	if opts.trace || cfg.Trace.Enabled {
		tp, shutdown, err := telemetry.StdoutProvider(cmd.ErrOrStderr(), "brickflow", cfg.Trace.Pretty)
		if err != nil {
			return fmt.Errorf("create tracer: %w", err)
		}
		defer shutdown(context.WithoutCancel(ctx))
		engineOpts = append(engineOpts, brickflow.WithTraceSink(telemetry.NewSpanSink(tp)))
	}

	var registry *prometheus.Registry
	if opts.metrics || cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector, err := middleware.NewPrometheusCollector(registry)
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		engineOpts = append(engineOpts, brickflow.WithMiddleware(middleware.Metrics(collector)))
	}

	engine, err := brickflow.NewEngine(env.registry, engineOpts...)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := engine.Reduce(ctx, def.Pipeline, def.Initial(input), version)
	logger.Debug(ctx, "pipeline finished", "name", def.Name, "duration", time.Since(start))

	if registry != nil {
		if werr := writeMetrics(cmd.ErrOrStderr(), registry); werr != nil {
			logger.Warn(ctx, "write metrics", "error", werr)
		}
	}
	if err != nil {
		return fmt.Errorf("pipeline %s failed: %w", def.Name, err)
	}
	return printValue(cmd.OutOrStdout(), g.output, result)
}

// writeMetrics dumps the registry in the Prometheus text format.
func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
