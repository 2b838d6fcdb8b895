// Package sink persists answers and audit-log entries for sheet cells.
package sink

import (
	"context"

	"github.com/yamakatsunamamugi/autoai/internal/model"
)

// Sink is the system of record for task results. WriteAnswer is idempotent
// per key; AppendLog merges onto existing log text and never overwrites it.
// The append is read-modify-write and is not atomic against external
// writers of the same sheet.
type Sink interface {
	WriteAnswer(ctx context.Context, key model.RowKey, value string) error
	AppendLog(ctx context.Context, key model.RowKey, entry model.LogEntry, first bool) error
	ReadAnswer(ctx context.Context, key model.RowKey) (string, error)
}

// RunStore records scheduler runs alongside the sheet data.
type RunStore interface {
	CreateRun(ctx context.Context) (string, error)
	FinishRun(ctx context.Context, runID string, summary *model.Summary) error
}
