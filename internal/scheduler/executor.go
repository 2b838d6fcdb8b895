package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

var errPoolExhausted = eris.New("scheduler: no slot available for batch position")

// execution tracks one task's slot binding through the phases of a batch.
type execution struct {
	task *model.Task
	sess slotpool.Session
	pos  int
	live bool // slot bound and task still in play
}

// prepare acquires the slot, binds the session and stages the prompt.
// Bind failures are hard per-task failures with no in-batch retry.
func (s *Scheduler) prepare(ctx context.Context, drv driver.Driver, e *execution) {
	sess, err := s.pool.Acquire(ctx, e.task.Backend, e.pos)
	if err != nil {
		e.task.Fail(model.FailBind, "", err)
		zap.L().Warn("scheduler: bind failed",
			zap.String("channel", e.task.Channel),
			zap.Int("row", e.task.Row),
			zap.Error(err),
		)
		return
	}
	e.sess = sess
	e.live = true

	res := drv.PrepareInput(ctx, sess, e.task.Prompt)
	if !res.OK {
		s.failExec(ctx, e, model.FailPhase, model.PhasePrepare, res.Err)
		return
	}
	e.task.Status = model.StatusPrepared
}

// selectModel runs the model selection phase under the batch policy.
func (s *Scheduler) selectModel(ctx context.Context, drv driver.Driver, e *execution, policy Policy) {
	if e.task.ModelKey == "" {
		e.task.Status = model.StatusModelSet
		return
	}
	res := drv.SelectParam(ctx, e.sess, driver.ParamModel, e.task.ModelKey)
	if res.OK {
		e.task.DisplayedModel = res.Displayed
	} else {
		if policy == Strict {
			s.failExec(ctx, e, model.FailPhase, model.PhaseSelectModel, res.Err)
			return
		}
		// Best-effort: proceed with whatever the backend has selected,
		// leaving the discrepancy visible in the audit log.
		zap.L().Warn("scheduler: model selection failed, proceeding",
			zap.String("channel", e.task.Channel),
			zap.Int("row", e.task.Row),
			zap.String("model_key", e.task.ModelKey),
			zap.Error(res.Err),
		)
	}
	e.task.Status = model.StatusModelSet
}

// selectFunction runs the function selection phase. It is empirically the
// least reliable phase, so a failure triggers bounded re-setups (prepare +
// model select again) before the policy decides the outcome.
func (s *Scheduler) selectFunction(ctx context.Context, drv driver.Driver, e *execution, policy Policy) {
	if e.task.FunctionKey == "" {
		e.task.Status = model.StatusFunctionSet
		return
	}

	for attempt := 0; ; attempt++ {
		res := drv.SelectParam(ctx, e.sess, driver.ParamFunction, e.task.FunctionKey)
		if res.OK {
			e.task.DisplayedFunction = res.Displayed
			e.task.Status = model.StatusFunctionSet
			return
		}

		if attempt >= s.cfg.SetupRetries {
			if policy == Strict {
				s.failExec(ctx, e, model.FailPhase, model.PhaseSelectFunction, res.Err)
				return
			}
			zap.L().Warn("scheduler: function selection failed, proceeding",
				zap.String("channel", e.task.Channel),
				zap.Int("row", e.task.Row),
				zap.String("function_key", e.task.FunctionKey),
				zap.Error(res.Err),
			)
			e.task.Status = model.StatusFunctionSet
			return
		}

		zap.L().Warn("scheduler: function selection failed, re-running setup",
			zap.String("channel", e.task.Channel),
			zap.Int("row", e.task.Row),
			zap.Int("resetup", attempt+1),
		)
		if !s.resetup(ctx, drv, e, policy) {
			return
		}
	}
}

// resetup re-runs prepare and model selection ahead of another function
// selection attempt. Returns false if the task failed during re-setup.
func (s *Scheduler) resetup(ctx context.Context, drv driver.Driver, e *execution, policy Policy) bool {
	res := drv.PrepareInput(ctx, e.sess, e.task.Prompt)
	if !res.OK {
		s.failExec(ctx, e, model.FailPhase, model.PhasePrepare, res.Err)
		return false
	}
	if e.task.ModelKey != "" {
		res = drv.SelectParam(ctx, e.sess, driver.ParamModel, e.task.ModelKey)
		if !res.OK && policy == Strict {
			s.failExec(ctx, e, model.FailPhase, model.PhaseSelectModel, res.Err)
			return false
		}
		if res.OK {
			e.task.DisplayedModel = res.Displayed
		}
	}
	return true
}

// submit runs the long final phase, writes the result to the sink and then
// releases the slot. A missing payload fails the task rather than counting
// as an empty success.
func (s *Scheduler) submit(ctx context.Context, drv driver.Driver, e *execution) {
	e.task.Status = model.StatusSubmitted
	e.task.SubmittedAt = time.Now()

	res := drv.SubmitAndCollect(ctx, e.sess)
	if !res.OK {
		s.failExec(ctx, e, model.FailPhase, model.PhaseSubmit, res.Err)
		return
	}
	if strings.TrimSpace(res.Displayed) == "" {
		s.failExec(ctx, e, model.FailEmptyResult, model.PhaseSubmit, nil)
		return
	}

	e.task.Result = res.Displayed
	e.task.CompletedAt = time.Now()
	e.task.Status = model.StatusCompleted

	s.writeResult(ctx, drv, e)
	s.releaseExec(ctx, e)
}

// writeResult persists the answer and audit entry. Sink failures are
// warnings: the in-memory result stands and the task stays completed.
func (s *Scheduler) writeResult(ctx context.Context, drv driver.Driver, e *execution) {
	key := e.task.Key()

	sourceURL := s.cfg.SourceURL
	if su, ok := drv.(driver.SourceURL); ok {
		if u := su.SourceURL(e.sess); u != "" {
			sourceURL = u
		}
	}

	if err := s.sink.WriteAnswer(ctx, key, e.task.Result); err != nil {
		zap.L().Warn("scheduler: answer write failed, keeping in-memory result",
			zap.String("channel", key.Channel),
			zap.Int("row", key.Row),
			zap.Error(err),
		)
		s.noteSinkWarning()
		return
	}

	entry := model.EntryFor(e.task, sourceURL)
	if err := s.sink.AppendLog(ctx, key, entry, e.task.Attempt == 0); err != nil {
		zap.L().Warn("scheduler: log append failed",
			zap.String("channel", key.Channel),
			zap.Int("row", key.Row),
			zap.Error(err),
		)
		s.noteSinkWarning()
	}
}

// failExec marks the task failed and releases its slot. Whatever phase the
// task failed in, the slot is unbound exactly once.
func (s *Scheduler) failExec(ctx context.Context, e *execution, kind model.FailKind, phase model.Phase, err error) {
	e.task.Fail(kind, phase, err)
	zap.L().Warn("scheduler: task failed",
		zap.String("channel", e.task.Channel),
		zap.Int("row", e.task.Row),
		zap.String("kind", string(kind)),
		zap.String("phase", string(phase)),
		zap.Error(err),
	)
	s.releaseExec(ctx, e)
}

func (s *Scheduler) releaseExec(ctx context.Context, e *execution) {
	if !e.live {
		return
	}
	e.live = false
	if err := s.pool.Release(ctx, e.pos); err != nil {
		zap.L().Warn("scheduler: slot release failed",
			zap.Int("position", e.pos),
			zap.Error(err),
		)
	}
}
