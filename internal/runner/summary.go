package runner

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Strategies reported in the summary.
const (
	StrategySkipped     = "skipped"
	StrategyFull        = "full"
	StrategyIncremental = "incremental"
	StrategyUnchanged   = "unchanged"
	StrategyRebuild     = "rebuild"
)

// StageResult describes what one stage did.
type StageResult struct {
	Stage    string
	Strategy string
	Items    int64
	Failed   int64
	Duration time.Duration
}

// Summary is the outcome of a run.
type Summary struct {
	Stages []StageResult
	LastID int64
}

// Render prints the summary as a table.
func (s Summary) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("obsdb run, last event %d", s.LastID)
	t.AppendHeader(table.Row{"Stage", "Strategy", "Items", "Failed", "Duration"})
	for _, st := range s.Stages {
		t.AppendRow(table.Row{st.Stage, st.Strategy, st.Items, st.Failed, st.Duration.Round(time.Millisecond)})
	}
	t.Render()
}
