// Package slotpool manages the fixed set of positional execution slots and
// owns the lifecycle of the sessions bound to them. All session state lives
// on the pool instance so independent schedulers never share slots.
package slotpool

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/model"
)

// Session is an opaque handle to a live backend binding. It is owned by the
// slot that created it; nothing else may destroy it.
type Session interface {
	ID() string
	Backend() model.Backend
}

// Binder creates and destroys bound sessions. Unbind must be safe to call
// even if the underlying session is already gone.
type Binder interface {
	Bind(ctx context.Context, backend model.Backend, position int) (Session, error)
	Unbind(ctx context.Context, s Session) error
}

// Pool holds exactly size positional slots; each slot binds at most one
// session at a time.
type Pool struct {
	binder Binder

	mu    sync.Mutex
	slots []Session
}

// New creates a pool with the given number of positions.
func New(binder Binder, size int) *Pool {
	if size <= 0 {
		size = 3
	}
	return &Pool{
		binder: binder,
		slots:  make([]Session, size),
	}
}

// Size returns the number of positions.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire binds a session for backend at the given position. If the position
// still holds a session from an earlier batch, that session is released
// first so stale sessions never accumulate; a release failure is logged and
// the rebind proceeds.
func (p *Pool) Acquire(ctx context.Context, backend model.Backend, position int) (Session, error) {
	if position < 0 || position >= len(p.slots) {
		return nil, eris.Errorf("slotpool: position %d out of range [0,%d)", position, len(p.slots))
	}

	p.mu.Lock()
	stale := p.slots[position]
	p.slots[position] = nil
	p.mu.Unlock()

	if stale != nil {
		if err := p.binder.Unbind(ctx, stale); err != nil {
			zap.L().Warn("slotpool: release of stale session failed",
				zap.Int("position", position),
				zap.String("session", stale.ID()),
				zap.Error(err),
			)
		}
	}

	sess, err := p.binder.Bind(ctx, backend, position)
	if err != nil {
		return nil, eris.Wrapf(err, "slotpool: bind %s at position %d", backend, position)
	}

	p.mu.Lock()
	p.slots[position] = sess
	p.mu.Unlock()

	return sess, nil
}

// Release unbinds the session at position, if any. Releasing an empty slot
// is a no-op.
func (p *Pool) Release(ctx context.Context, position int) error {
	if position < 0 || position >= len(p.slots) {
		return eris.Errorf("slotpool: position %d out of range [0,%d)", position, len(p.slots))
	}

	p.mu.Lock()
	sess := p.slots[position]
	p.slots[position] = nil
	p.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := p.binder.Unbind(ctx, sess); err != nil {
		return eris.Wrapf(err, "slotpool: unbind position %d", position)
	}
	return nil
}

// ReleaseAll unbinds every bound session, logging failures.
func (p *Pool) ReleaseAll(ctx context.Context) {
	for i := range p.slots {
		if err := p.Release(ctx, i); err != nil {
			zap.L().Warn("slotpool: release failed", zap.Int("position", i), zap.Error(err))
		}
	}
}

// BoundCount returns how many positions currently hold a session.
func (p *Pool) BoundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s != nil {
			n++
		}
	}
	return n
}
