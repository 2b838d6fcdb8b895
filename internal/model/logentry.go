package model

import (
	"fmt"
	"strings"
	"time"
)

// LogEntry is the audit record appended to a cell's log after a task
// completes. Selected vs displayed values are both kept so best-effort
// discrepancies stay visible in the sheet.
type LogEntry struct {
	Backend           string
	SelectedModel     string
	DisplayedModel    string
	SelectedFunction  string
	DisplayedFunction string
	SourceURL         string
	SubmittedAt       time.Time
	CompletedAt       time.Time
}

// ElapsedSeconds returns the submit-to-complete duration in seconds.
func (e LogEntry) ElapsedSeconds() float64 {
	if e.SubmittedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.SubmittedAt).Seconds()
}

// Format renders the entry as the multi-line text block written to the sheet.
func (e LogEntry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend: %s\n", e.Backend)
	fmt.Fprintf(&b, "model: %s", e.SelectedModel)
	if e.DisplayedModel != "" && e.DisplayedModel != e.SelectedModel {
		fmt.Fprintf(&b, " (displayed: %s)", e.DisplayedModel)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "function: %s", e.SelectedFunction)
	if e.DisplayedFunction != "" && e.DisplayedFunction != e.SelectedFunction {
		fmt.Fprintf(&b, " (displayed: %s)", e.DisplayedFunction)
	}
	b.WriteString("\n")
	if e.SourceURL != "" {
		fmt.Fprintf(&b, "url: %s\n", e.SourceURL)
	}
	fmt.Fprintf(&b, "submitted: %s\n", e.SubmittedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "completed: %s\n", e.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "elapsed_secs: %.1f", e.ElapsedSeconds())
	return b.String()
}

// EntryFor builds the audit entry for a completed task.
func EntryFor(t *Task, sourceURL string) LogEntry {
	return LogEntry{
		Backend:           t.Backend.String(),
		SelectedModel:     t.ModelKey,
		DisplayedModel:    t.DisplayedModel,
		SelectedFunction:  t.FunctionKey,
		DisplayedFunction: t.DisplayedFunction,
		SourceURL:         sourceURL,
		SubmittedAt:       t.SubmittedAt,
		CompletedAt:       t.CompletedAt,
	}
}
