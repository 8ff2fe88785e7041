package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version information about the brickflow CLI.`,
		Example: `  # Show version
  brickflow version

  # Show version in JSON format
  brickflow version --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch g.output {
			case jsonFormat, yamlFormat:
				return printValue(out, g.output, map[string]string{
					"version":   version,
					"commit":    commit,
					"buildDate": buildDate,
					"goVersion": goVersion,
				})
			default:
				fmt.Fprintf(out, "brickflow version %s\n", version)
				if version != "dev" {
					fmt.Fprintf(out, "  commit:     %s\n", commit)
					fmt.Fprintf(out, "  built:      %s\n", buildDate)
					fmt.Fprintf(out, "  go version: %s\n", goVersion)
				}
				return nil
			}
		},
	}
}
