package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/obsdb/obsdb/internal/catalog"
	"github.com/obsdb/obsdb/internal/config"
	"github.com/obsdb/obsdb/internal/database"
	"github.com/obsdb/obsdb/internal/filesystem"
	"github.com/obsdb/obsdb/internal/status"
)

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the cursors of the last run and the catalog contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			report, err := loadStatus(context.Background(), cfg)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(report)
			case "table":
				outputStatusTable(cmd, report)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

type statusReport struct {
	Running  string           `json:"running,omitempty"`
	Cursors  status.Status    `json:"cursors"`
	Projects []projectSummary `json:"projects"`
}

type projectSummary struct {
	Name     string `json:"name"`
	Packages int64  `json:"packages"`
	Links    int64  `json:"links"`
	Errors   int64  `json:"errors"`
}

func loadStatus(ctx context.Context, cfg *config.Config) (*statusReport, error) {
	st, err := status.Load(cfg.StatusPath())
	if err != nil {
		return nil, err
	}
	report := &statusReport{Cursors: st, Projects: []projectSummary{}}

	if filesystem.FileExists(cfg.LockPath()) {
		pid, _ := os.ReadFile(cfg.LockPath())
		report.Running = strings.TrimSpace(string(pid))
	}

	if !filesystem.FileExists(cfg.CatalogPath()) {
		return report, nil
	}
	store := catalog.New(cfg, nil)
	defer func() { _ = store.Close() }()
	if err := store.Open(ctx); err != nil {
		return nil, err
	}
	counts, err := store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		report.Projects = append(report.Projects, toProjectSummary(c))
	}
	return report, nil
}

func toProjectSummary(c database.ProjectCounts) projectSummary {
	return projectSummary{Name: c.Name, Packages: c.Packages, Links: c.Links, Errors: c.Errors}
}

func getTerminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

func outputStatusTable(cmd *cobra.Command, report *statusReport) {
	out := cmd.OutOrStdout()

	if report.Running != "" {
		fmt.Fprintf(out, "A run is in progress (pid %s).\n", report.Running)
	}

	cursors := table.NewWriter()
	cursors.SetOutputMirror(out)
	cursors.SetStyle(table.StyleLight)
	cursors.AppendHeader(table.Row{"Cursor", "Value"})
	c := report.Cursors
	for _, row := range []struct {
		name  string
		value int64
	}{
		{"mirror", c.Mirror},
		{"db", c.DB},
		{"xml", c.XML},
		{"conf-mtime", c.ConfMtime},
		{"opensuse-mtime", c.OpensuseMtime},
		{"upstream-mtime", c.UpstreamMtime},
	} {
		value := fmt.Sprint(row.value)
		if row.value == status.Unset {
			value = "unset"
		}
		cursors.AppendRow(table.Row{row.name, value})
	}
	cursors.Render()

	if len(report.Projects) == 0 {
		fmt.Fprintln(out, "The catalog is empty.")
		return
	}

	// counts take at most 10 columns each, borders another 13
	nameWidth := max(getTerminalWidth()-3*10-13, 10)

	projects := table.NewWriter()
	projects.SetOutputMirror(out)
	projects.SetStyle(table.StyleLight)
	projects.AppendHeader(table.Row{"Project", "Packages", "Links", "Errors"})
	var total projectSummary
	for _, p := range report.Projects {
		projects.AppendRow(table.Row{runewidth.Truncate(p.Name, nameWidth, "..."), p.Packages, p.Links, p.Errors})
		total.Packages += p.Packages
		total.Links += p.Links
		total.Errors += p.Errors
	}
	projects.AppendFooter(table.Row{"Total", total.Packages, total.Links, total.Errors})
	projects.Render()
}
