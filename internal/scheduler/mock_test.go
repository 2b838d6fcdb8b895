package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/sink"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

// --- scripted session/binder ---

type scriptSession struct {
	id      string
	backend model.Backend
}

func (s *scriptSession) ID() string             { return s.id }
func (s *scriptSession) Backend() model.Backend { return s.backend }

type scriptBinder struct {
	mu       sync.Mutex
	seq      int
	binds    int
	unbinds  int
	bound    int
	maxBound int
	bindErr  error
}

func (b *scriptBinder) Bind(_ context.Context, backend model.Backend, _ int) (slotpool.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bindErr != nil {
		return nil, b.bindErr
	}
	b.seq++
	b.binds++
	b.bound++
	if b.bound > b.maxBound {
		b.maxBound = b.bound
	}
	return &scriptSession{id: fmt.Sprintf("s%d", b.seq), backend: backend}, nil
}

func (b *scriptBinder) Unbind(_ context.Context, _ slotpool.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbinds++
	b.bound--
	return nil
}

// --- scripted driver ---

type phaseCall struct {
	phase model.Phase
	row   int
}

// scriptDriver fails phases according to per-row scripts. A script value n
// fails the first n calls of that phase for the row, then succeeds.
type scriptDriver struct {
	backend model.Backend

	mu            sync.Mutex
	calls         []phaseCall
	prepareFails  map[int]int
	modelFails    map[int]int
	functionFails map[int]int
	submitFails   map[int]int
	emptySubmits  map[int]bool
	seen          map[string]int // phase+row call counts
	rowsBySession map[string]int

	submitDelay    time.Duration
	inSubmit       int
	maxInSubmit    int
	submitStartRow []int
}

func newScriptDriver(backend model.Backend) *scriptDriver {
	return &scriptDriver{
		backend:       backend,
		prepareFails:  map[int]int{},
		modelFails:    map[int]int{},
		functionFails: map[int]int{},
		submitFails:   map[int]int{},
		emptySubmits:  map[int]bool{},
		seen:          map[string]int{},
		rowsBySession: map[string]int{},
	}
}

func (d *scriptDriver) Backend() model.Backend { return d.backend }

func (d *scriptDriver) record(phase model.Phase, row int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, phaseCall{phase: phase, row: row})
	key := fmt.Sprintf("%s/%d", phase, row)
	d.seen[key]++
	return d.seen[key]
}

func (d *scriptDriver) shouldFail(script map[int]int, row, nth int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return nth <= script[row]
}

// rowOf extracts the task row from the prompt, which the tests set to
// "row:<n>".
func rowOf(text string) int {
	var row int
	fmt.Sscanf(text, "row:%d", &row)
	return row
}

func (d *scriptDriver) PrepareInput(_ context.Context, sess slotpool.Session, text string) driver.PhaseResult {
	row := rowOf(text)
	d.mu.Lock()
	d.rowsBySession[sess.ID()] = row
	d.mu.Unlock()

	nth := d.record(model.PhasePrepare, row)
	if d.shouldFail(d.prepareFails, row, nth) {
		return driver.PhaseResult{OK: false, Err: fmt.Errorf("prepare not ready for row %d", row)}
	}
	return driver.PhaseResult{OK: true}
}

func (d *scriptDriver) SelectParam(_ context.Context, sess slotpool.Session, kind driver.ParamKind, value string) driver.PhaseResult {
	row := d.rowFor(sess)
	switch kind {
	case driver.ParamModel:
		nth := d.record(model.PhaseSelectModel, row)
		if d.shouldFail(d.modelFails, row, nth) {
			return driver.PhaseResult{OK: false, Err: fmt.Errorf("model menu missing")}
		}
		return driver.PhaseResult{OK: true, Displayed: "displayed-" + value}
	case driver.ParamFunction:
		nth := d.record(model.PhaseSelectFunction, row)
		if d.shouldFail(d.functionFails, row, nth) {
			return driver.PhaseResult{OK: false, Err: fmt.Errorf("function menu missing")}
		}
		return driver.PhaseResult{OK: true, Displayed: value}
	}
	return driver.PhaseResult{Err: fmt.Errorf("unknown kind %q", kind)}
}

func (d *scriptDriver) SubmitAndCollect(ctx context.Context, sess slotpool.Session) driver.PhaseResult {
	row := d.rowFor(sess)
	nth := d.record(model.PhaseSubmit, row)

	d.mu.Lock()
	d.submitStartRow = append(d.submitStartRow, row)
	d.inSubmit++
	if d.inSubmit > d.maxInSubmit {
		d.maxInSubmit = d.inSubmit
	}
	delay := d.submitDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	d.mu.Lock()
	d.inSubmit--
	empty := d.emptySubmits[row]
	d.mu.Unlock()

	if d.shouldFail(d.submitFails, row, nth) {
		return driver.PhaseResult{OK: false, Err: fmt.Errorf("response never arrived for row %d", row)}
	}
	if empty {
		return driver.PhaseResult{OK: true, Displayed: ""}
	}
	return driver.PhaseResult{OK: true, Displayed: fmt.Sprintf("answer for row %d", row)}
}

func (d *scriptDriver) rowFor(sess slotpool.Session) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rowsBySession[sess.ID()]
}

func (d *scriptDriver) callLog() []phaseCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]phaseCall, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *scriptDriver) countPhase(phase model.Phase) int {
	n := 0
	for _, c := range d.callLog() {
		if c.phase == phase {
			n++
		}
	}
	return n
}

// --- in-memory sink ---

type memSink struct {
	mu         sync.Mutex
	answers    map[model.RowKey]string
	logs       map[model.RowKey][]model.LogEntry
	writeErr   error
	appendErr  error
	emptyReads map[model.RowKey]bool // keys whose ReadAnswer always reports empty
}

func newMemSink() *memSink {
	return &memSink{
		answers:    map[model.RowKey]string{},
		logs:       map[model.RowKey][]model.LogEntry{},
		emptyReads: map[model.RowKey]bool{},
	}
}

var _ sink.Sink = (*memSink)(nil)

func (m *memSink) WriteAnswer(_ context.Context, key model.RowKey, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.answers[key] = value
	return nil
}

func (m *memSink) AppendLog(_ context.Context, key model.RowKey, entry model.LogEntry, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.logs[key] = append(m.logs[key], entry)
	return nil
}

func (m *memSink) ReadAnswer(_ context.Context, key model.RowKey) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emptyReads[key] {
		return "", nil
	}
	return m.answers[key], nil
}

func (m *memSink) answerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.answers)
}
