package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks a task through the fixed phase protocol.
type TaskStatus string

const (
	StatusCreated     TaskStatus = "created"
	StatusPrepared    TaskStatus = "prepared"
	StatusModelSet    TaskStatus = "model_set"
	StatusFunctionSet TaskStatus = "function_set"
	StatusSubmitted   TaskStatus = "submitted"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
)

// Phase is one step of the fixed four-step task protocol.
type Phase string

const (
	PhasePrepare        Phase = "prepare_input"
	PhaseSelectModel    Phase = "select_model"
	PhaseSelectFunction Phase = "select_function"
	PhaseSubmit         Phase = "submit_and_collect"
)

// FailKind classifies why a task failed.
type FailKind string

const (
	// FailBind means the slot/session could not be acquired or bound.
	FailBind FailKind = "bind_failed"
	// FailPhase means a specific phase command reported failure.
	FailPhase FailKind = "phase_failed"
	// FailEmptyResult means the submit succeeded but produced no payload.
	FailEmptyResult FailKind = "empty_result"
	// FailPool means a pool-level error invalidated the rest of the batch.
	FailPool FailKind = "pool_failed"
)

// Failure records the terminal failure of a task attempt.
type Failure struct {
	Kind  FailKind
	Phase Phase // set for FailPhase
	Err   error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	msg := string(f.Kind)
	if f.Phase != "" {
		msg += ": " + string(f.Phase)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Task is one backend-specific unit of work expanded from a sheet row.
// Its status and result are mutated only by the phase executor; the retry
// coordinator may reset it for a re-queued attempt.
type Task struct {
	ID      string
	GroupID string // shared by tasks fanned out from one row
	Channel string
	Row     int
	Backend Backend

	Prompt      string
	ModelKey    string
	FunctionKey string

	Status  TaskStatus
	Result  string
	Failure *Failure

	// Attempt counts how many times the task has been queued; 0 on the
	// primary pass, incremented by each Reset for a re-queued attempt.
	Attempt int

	// Displayed* hold what the backend actually showed after selection,
	// which can differ from the requested key in best-effort mode.
	DisplayedModel    string
	DisplayedFunction string

	CreatedAt   time.Time
	SubmittedAt time.Time
	CompletedAt time.Time
}

// NewTask builds a task for one backend from a sheet row.
func NewTask(row Row, backend Backend, groupID string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		GroupID:     groupID,
		Channel:     backend.String(),
		Row:         row.Number,
		Backend:     backend,
		Prompt:      row.Prompt,
		ModelKey:    row.ModelKey,
		FunctionKey: row.FunctionKey,
		Status:      StatusCreated,
		CreatedAt:   time.Now(),
	}
}

// Key identifies the task's target cell in the result sink.
func (t *Task) Key() RowKey {
	return RowKey{Channel: t.Channel, Row: t.Row}
}

// Fail marks the task failed with the given reason.
func (t *Task) Fail(kind FailKind, phase Phase, err error) {
	t.Status = StatusFailed
	t.Failure = &Failure{Kind: kind, Phase: phase, Err: err}
}

// Reset returns the task to its initial state for a re-queued attempt.
func (t *Task) Reset() {
	t.Attempt++
	t.Status = StatusCreated
	t.Failure = nil
	t.Result = ""
	t.DisplayedModel = ""
	t.DisplayedFunction = ""
	t.SubmittedAt = time.Time{}
	t.CompletedAt = time.Time{}
}

// RowKey addresses one target cell in the result sink.
type RowKey struct {
	Channel string
	Row     int
}

// Row is a logical sheet row before fan-out.
type Row struct {
	Number      int
	Prompt      string
	Target      string // backend name or CompositeTarget
	ModelKey    string
	FunctionKey string
}

// Expand turns a logical row into its backend-specific tasks. A composite
// target yields one task per backend sharing a group ID; expansion happens
// exactly once, before any batch is formed.
func (r Row) Expand() ([]*Task, error) {
	backends, err := ParseTarget(r.Target)
	if err != nil {
		return nil, err
	}
	groupID := uuid.NewString()
	tasks := make([]*Task, 0, len(backends))
	for _, b := range backends {
		tasks = append(tasks, NewTask(r, b, groupID))
	}
	return tasks, nil
}

// Channel is an ordered sequence of tasks sharing a backend target,
// processed as a unit by the group scheduler.
type Channel struct {
	Key     string
	Backend Backend
	Tasks   []*Task
}
