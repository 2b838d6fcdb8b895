// Package scheduler drives ordered task lists through the fixed four-phase
// protocol against a bounded slot pool, channel by channel, with deferred
// channel-level retries on a backoff ladder.
package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/sink"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

// Scheduler owns all run state: the slot pool, the per-channel retry
// bookkeeping, and the sink warning tally. Independent instances can run
// side by side.
type Scheduler struct {
	cfg      Config
	registry *driver.Registry
	pool     *slotpool.Pool
	sink     sink.Sink

	// runMu serializes batch execution so slots are never shared across
	// concurrently running batches (deferred retries fire asynchronously).
	runMu sync.Mutex

	mu           sync.Mutex
	states       map[string]*retryState
	permanent    []*model.Task
	sinkWarnings int

	wg sync.WaitGroup
}

// New creates a scheduler over the registered drivers.
func New(cfg Config, registry *driver.Registry, snk sink.Sink) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		pool:     slotpool.New(registry.Binder(), cfg.SlotCount),
		sink:     snk,
		states:   make(map[string]*retryState),
	}
}

// Run processes every channel in stable key order and blocks until all
// deferred retries have resolved, then reports the summary.
func (s *Scheduler) Run(ctx context.Context, channels []model.Channel) (*model.Summary, error) {
	start := time.Now()

	ordered := make([]model.Channel, len(channels))
	copy(ordered, channels)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	var all []*model.Task
	for _, ch := range ordered {
		all = append(all, ch.Tasks...)
	}

	zap.L().Info("scheduler: run starting",
		zap.Int("channels", len(ordered)),
		zap.Int("tasks", len(all)),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("slots", s.cfg.SlotCount),
	)

	for _, ch := range ordered {
		s.runChannel(ctx, ch)
	}

	// Deferred retries keep running after the channel loop; the summary
	// waits for the last of them.
	s.wg.Wait()
	s.pool.ReleaseAll(ctx)

	summary := s.summarize(all, start)
	zap.L().Info("scheduler: run finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("sink_warnings", summary.SinkWarnings),
		zap.Float64("elapsed_secs", summary.ElapsedSeconds),
	)
	return summary, nil
}

func (s *Scheduler) runChannel(ctx context.Context, ch model.Channel) {
	drv, err := s.registry.Get(ch.Backend)
	if err != nil {
		zap.L().Error("scheduler: channel has no driver, failing its tasks",
			zap.String("channel", ch.Key),
			zap.Error(err),
		)
		for _, t := range ch.Tasks {
			t.Fail(model.FailPool, "", err)
		}
		return
	}

	s.runMu.Lock()
	for _, batch := range splitBatches(ch.Tasks, s.cfg.BatchSize) {
		s.runBatch(ctx, drv, batch, BestEffort)
	}
	s.runMu.Unlock()

	s.coordinateRetry(ctx, ch, failedTasks(ch.Tasks))
	s.emptyAnswerRepass(ctx, drv, ch)
}

// emptyAnswerRepass re-checks each completed task's sink-side answer and
// re-queues the still-empty ones once through the batch runner in strict
// mode.
func (s *Scheduler) emptyAnswerRepass(ctx context.Context, drv driver.Driver, ch model.Channel) {
	var requeue []*model.Task
	for _, t := range ch.Tasks {
		if t.Status != model.StatusCompleted {
			continue
		}
		answer, err := s.sink.ReadAnswer(ctx, t.Key())
		if err != nil {
			zap.L().Warn("scheduler: re-pass answer check failed",
				zap.String("channel", ch.Key),
				zap.Int("row", t.Row),
				zap.Error(err),
			)
			continue
		}
		if strings.TrimSpace(answer) == "" {
			requeue = append(requeue, t)
		}
	}
	if len(requeue) == 0 {
		return
	}

	zap.L().Info("scheduler: re-queuing tasks with empty sink answers",
		zap.String("channel", ch.Key),
		zap.Int("tasks", len(requeue)),
	)
	for _, t := range requeue {
		t.Reset()
	}
	s.runMu.Lock()
	for _, batch := range splitBatches(requeue, s.cfg.BatchSize) {
		s.runBatch(ctx, drv, batch, Strict)
	}
	s.runMu.Unlock()
}

func (s *Scheduler) summarize(all []*model.Task, start time.Time) *model.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &model.Summary{
		Total:          len(all),
		SinkWarnings:   s.sinkWarnings,
		ElapsedSeconds: time.Since(start).Seconds(),
	}
	for _, t := range all {
		if t.Status == model.StatusCompleted {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}
	for _, t := range s.permanent {
		summary.PermanentlyFailed = append(summary.PermanentlyFailed, t.Key())
	}
	return summary
}

func (s *Scheduler) noteSinkWarning() {
	s.mu.Lock()
	s.sinkWarnings++
	s.mu.Unlock()
}

func splitBatches(tasks []*model.Task, size int) [][]*model.Task {
	var out [][]*model.Task
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		out = append(out, tasks[start:end])
	}
	return out
}

func failedTasks(tasks []*model.Task) []*model.Task {
	var out []*model.Task
	for _, t := range tasks {
		if t.Status == model.StatusFailed {
			out = append(out, t)
		}
	}
	return out
}
