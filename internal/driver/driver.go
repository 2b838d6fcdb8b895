// Package driver defines the channel driver contract: the backend-specific
// implementation of the four phase commands, selected through a typed
// registry rather than string branching.
package driver

import (
	"context"

	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

// ParamKind names the selectable parameter kinds.
type ParamKind string

const (
	ParamModel    ParamKind = "model"
	ParamFunction ParamKind = "function"
)

// PhaseResult is the outcome of one phase command. Recoverable not-ready
// conditions are reported with OK=false rather than through Err; Err is
// reserved for hard faults.
type PhaseResult struct {
	OK        bool
	Displayed string // displayed value after a select; collected payload after a submit
	Err       error
}

// Driver performs phase commands against one backend. Implementations must
// tolerate repeated calls for the same session (idempotent probing).
// SubmitAndCollect may block for minutes; callers bound it with ctx.
type Driver interface {
	Backend() model.Backend
	PrepareInput(ctx context.Context, sess slotpool.Session, text string) PhaseResult
	SelectParam(ctx context.Context, sess slotpool.Session, kind ParamKind, value string) PhaseResult
	SubmitAndCollect(ctx context.Context, sess slotpool.Session) PhaseResult
}

// SourceURL is implemented by drivers that can report a stable URL for a
// session's conversation, recorded in the audit log.
type SourceURL interface {
	SourceURL(sess slotpool.Session) string
}
