package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
)

// runBatch drives one batch of tasks through the phase protocol. Phases 1-3
// run strictly sequentially across the batch in row order: slot creation and
// the selection phases touch backend state that must not be raced. Phase 4
// runs concurrently with staggered starts, since the long submit wait is
// where the throughput is. Individual task failures are absorbed, never
// returned.
func (s *Scheduler) runBatch(ctx context.Context, drv driver.Driver, tasks []*model.Task, policy Policy) {
	execs := make([]*execution, 0, len(tasks))
	for i, t := range tasks {
		if i >= s.pool.Size() {
			// Oversized batch: only slotCount tasks can hold a slot.
			t.Fail(model.FailPool, "", errPoolExhausted)
			continue
		}
		execs = append(execs, &execution{task: t, pos: i})
	}

	for _, e := range execs {
		s.prepare(ctx, drv, e)
	}
	for _, e := range execs {
		if e.live {
			s.selectModel(ctx, drv, e, policy)
		}
	}
	for _, e := range execs {
		if e.live {
			s.selectFunction(ctx, drv, e, policy)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.pool.Size())
	for _, e := range execs {
		if !e.live {
			continue
		}
		e := e
		g.Go(func() error {
			if e.pos > 0 && s.cfg.Stagger > 0 {
				timer := time.NewTimer(time.Duration(e.pos) * s.cfg.Stagger)
				select {
				case <-ctx.Done():
					timer.Stop()
					s.failExec(ctx, e, model.FailPhase, model.PhaseSubmit, ctx.Err())
					return nil
				case <-timer.C:
				}
			}
			s.submit(ctx, drv, e)
			return nil
		})
	}
	_ = g.Wait()

	if failed := failedTasks(tasks); len(failed) > 0 {
		zap.L().Warn("scheduler: batch finished with failures",
			zap.String("backend", drv.Backend().String()),
			zap.String("policy", policy.String()),
			zap.Int("tasks", len(tasks)),
			zap.Int("failed", len(failed)),
		)
	}
}
