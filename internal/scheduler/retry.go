package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/model"
)

// retryState is the per-channel retry bookkeeping. It is created on a
// channel's first failure and dropped when a pass comes back clean or the
// attempt budget is spent.
type retryState struct {
	attempt int
	pending *pendingTimer
}

// pendingTimer is the single deferred re-run a channel may have in flight.
type pendingTimer struct {
	cancel  chan struct{}
	fireAt  time.Time
	attempt int
}

// RetryPending describes one channel's scheduled deferred re-run.
type RetryPending struct {
	Channel string    `json:"channel"`
	Attempt int       `json:"attempt"`
	FireAt  time.Time `json:"fire_at"`
}

// coordinateRetry inspects a channel's failed tasks after a pass. While the
// attempt budget lasts it schedules a deferred strict re-run on the backoff
// ladder without blocking the caller; past the budget the tasks are recorded
// as permanently failed. Scheduling replaces any still-pending timer for the
// channel.
func (s *Scheduler) coordinateRetry(ctx context.Context, ch model.Channel, failed []*model.Task) {
	s.mu.Lock()

	if len(failed) == 0 {
		delete(s.states, ch.Key)
		s.mu.Unlock()
		return
	}

	st := s.states[ch.Key]
	if st == nil {
		st = &retryState{}
		s.states[ch.Key] = st
	}

	if st.attempt >= s.cfg.MaxAttempts {
		s.permanent = append(s.permanent, failed...)
		delete(s.states, ch.Key)
		s.mu.Unlock()
		zap.L().Error("scheduler: retry budget exhausted, tasks permanently failed",
			zap.String("channel", ch.Key),
			zap.Int("attempts", s.cfg.MaxAttempts),
			zap.Int("tasks", len(failed)),
			zap.Ints("rows", taskRows(failed)),
		)
		return
	}

	attempt := st.attempt
	st.attempt++

	delay := s.cfg.backoffFor(attempt)
	if st.pending != nil {
		close(st.pending.cancel)
	}
	p := &pendingTimer{
		cancel:  make(chan struct{}),
		fireAt:  time.Now().Add(delay),
		attempt: attempt,
	}
	st.pending = p
	s.mu.Unlock()

	zap.L().Info("scheduler: deferred retry scheduled",
		zap.String("channel", ch.Key),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Int("tasks", len(failed)),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.clearPending(ch.Key, p)
			return
		case <-p.cancel:
			return
		case <-timer.C:
		}
		s.clearPending(ch.Key, p)
		s.rerun(ctx, ch, failed)
	}()
}

// rerun executes the deferred strict pass over a channel's failed tasks and
// feeds the outcome back into the coordinator.
func (s *Scheduler) rerun(ctx context.Context, ch model.Channel, tasks []*model.Task) {
	drv, err := s.registry.Get(ch.Backend)
	if err != nil {
		zap.L().Error("scheduler: retry lost its driver", zap.String("channel", ch.Key), zap.Error(err))
		return
	}

	zap.L().Info("scheduler: deferred retry running",
		zap.String("channel", ch.Key),
		zap.Int("tasks", len(tasks)),
	)

	for _, t := range tasks {
		t.Reset()
	}
	s.runMu.Lock()
	for _, batch := range splitBatches(tasks, s.cfg.BatchSize) {
		s.runBatch(ctx, drv, batch, Strict)
	}
	s.runMu.Unlock()

	s.coordinateRetry(ctx, ch, failedTasks(tasks))
}

func (s *Scheduler) clearPending(channel string, p *pendingTimer) {
	s.mu.Lock()
	if st := s.states[channel]; st != nil && st.pending == p {
		st.pending = nil
	}
	s.mu.Unlock()
}

// CancelRetry cancels a channel's pending deferred re-run, if any. An
// in-flight batch is never preempted.
func (s *Scheduler) CancelRetry(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[channel]
	if st == nil || st.pending == nil {
		return false
	}
	close(st.pending.cancel)
	st.pending = nil
	zap.L().Info("scheduler: pending retry cancelled", zap.String("channel", channel))
	return true
}

// CancelAllRetries cancels every pending deferred re-run and returns how
// many were cancelled.
func (s *Scheduler) CancelAllRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for channel, st := range s.states {
		if st.pending == nil {
			continue
		}
		close(st.pending.cancel)
		st.pending = nil
		n++
		zap.L().Info("scheduler: pending retry cancelled", zap.String("channel", channel))
	}
	return n
}

// PendingRetries lists the channels with a deferred re-run scheduled, in
// stable order.
func (s *Scheduler) PendingRetries() []RetryPending {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RetryPending
	for channel, st := range s.states {
		if st.pending == nil {
			continue
		}
		out = append(out, RetryPending{
			Channel: channel,
			Attempt: st.pending.attempt,
			FireAt:  st.pending.fireAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func taskRows(tasks []*model.Task) []int {
	rows := make([]int, len(tasks))
	for i, t := range tasks {
		rows[i] = t.Row
	}
	return rows
}
