package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	goyaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/brickflow/builtin"
)

var headingStyle = lipgloss.NewStyle().Bold(true)

// NewBricksCommand creates the bricks command.
func NewBricksCommand(g *globals) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "bricks",
		Short: "List available bricks",
		Long: `List the bricks available to pipelines: built-ins, script bricks from
the configured script directories and bricks exported by plugins.`,
		Example: `  # List all bricks
  brickflow bricks

  # Show one brick with its schema and examples
  brickflow bricks info @brickflow/for-each`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listBricks(cmd, g, category)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list bricks in this category")

	list := &cobra.Command{
		Use:   "list",
		Short: "List available bricks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listBricks(cmd, g, category)
		},
	}
	list.Flags().StringVar(&category, "category", "", "Only list bricks in this category")

	info := &cobra.Command{
		Use:   "info <id>",
		Short: "Show detailed information about a brick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return brickInfo(cmd, g, args[0])
		},
	}

	cmd.AddCommand(list, info)
	return cmd
}

// describeAll returns the metadata of every available brick.
func describeAll(cmd *cobra.Command, g *globals) ([]builtin.Metadata, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	env, err := newEnvironment(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer env.Close(ctx)

	ids := env.registry.IDs()
	metas := make([]builtin.Metadata, 0, len(ids))
	for _, id := range ids {
		meta, _ := env.registry.Describe(id)
		metas = append(metas, meta)
	}
	return metas, nil
}

func listBricks(cmd *cobra.Command, g *globals, category string) error {
	metas, err := describeAll(cmd, g)
	if err != nil {
		return err
	}
	if category != "" {
		filtered := metas[:0]
		for _, m := range metas {
			if m.Category == category {
				filtered = append(filtered, m)
			}
		}
		metas = filtered
	}

	out := cmd.OutOrStdout()
	switch g.output {
	case jsonFormat, yamlFormat:
		summary := make([]map[string]any, len(metas))
		for i, m := range metas {
			summary[i] = map[string]any{
				"id":          m.ID,
				"kind":        m.Kind,
				"category":    m.Category,
				"description": m.Description,
			}
		}
		return printValue(out, g.output, summary)
	default:
		return outputTable(out, metas)
	}
}

// outputTable prints bricks grouped by category.
func outputTable(w io.Writer, metas []builtin.Metadata) error {
	categories := make(map[string][]builtin.Metadata)
	for _, m := range metas {
		cat := m.Category
		if cat == "" {
			cat = "other"
		}
		categories[cat] = append(categories[cat], m)
	}
	names := make([]string, 0, len(categories))
	for cat := range categories {
		names = append(names, cat)
	}
	sort.Strings(names)

	for _, cat := range names {
		fmt.Fprintf(w, "\n%s\n", headingStyle.Render(strings.ToUpper(cat[:1])+cat[1:]+":"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, m := range categories[cat] {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", m.ID, m.Kind, m.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nTotal: %d bricks\n", len(metas))
	fmt.Fprintln(w, "\nUse 'brickflow bricks info <id>' for detailed information about a brick.")
	return nil
}

func brickInfo(cmd *cobra.Command, g *globals, id string) error {
	metas, err := describeAll(cmd, g)
	if err != nil {
		return err
	}
	idx := sort.Search(len(metas), func(i int) bool { return metas[i].ID >= id })
	if idx == len(metas) || metas[idx].ID != id {
		return fmt.Errorf("brick %q not found", id)
	}
	meta := metas[idx]

	out := cmd.OutOrStdout()
	if g.output == jsonFormat || g.output == yamlFormat {
		return printValue(out, g.output, meta)
	}

	fmt.Fprintf(out, "%s %s\n", headingStyle.Render("Brick:"), meta.ID)
	fmt.Fprintf(out, "Kind: %s\n", meta.Kind)
	if meta.Category != "" {
		fmt.Fprintf(out, "Category: %s\n", meta.Category)
	}
	fmt.Fprintf(out, "Description: %s\n", meta.Description)
	if meta.Since != "" {
		fmt.Fprintf(out, "Since: %s\n", meta.Since)
	}

	if len(meta.InputSchema) > 0 {
		schema, _ := json.MarshalIndent(meta.InputSchema, "  ", "  ")
		fmt.Fprintf(out, "\n%s\n  %s\n", headingStyle.Render("Input:"), schema)
	}
	if len(meta.OutputSchema) > 0 {
		schema, _ := json.MarshalIndent(meta.OutputSchema, "  ", "  ")
		fmt.Fprintf(out, "\n%s\n  %s\n", headingStyle.Render("Output:"), schema)
	}

	if len(meta.Examples) > 0 {
		fmt.Fprintf(out, "\n%s\n", headingStyle.Render("Examples:"))
		for i, ex := range meta.Examples {
			fmt.Fprintf(out, "  %d. %s\n", i+1, ex.Name)
			if ex.Description != "" {
				fmt.Fprintf(out, "     %s\n", ex.Description)
			}
			if len(ex.Config) > 0 {
				config, _ := goyaml.Marshal(ex.Config)
				fmt.Fprintln(out, "     Config:")
				for _, line := range strings.Split(string(config), "\n") {
					if line != "" {
						fmt.Fprintf(out, "       %s\n", line)
					}
				}
			}
		}
	}
	return nil
}
