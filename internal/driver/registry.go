package driver

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

// Registry maps backends to their drivers and binders.
type Registry struct {
	drivers map[model.Backend]Driver
	binders map[model.Backend]slotpool.Binder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[model.Backend]Driver),
		binders: make(map[model.Backend]slotpool.Binder),
	}
}

// Register adds a driver and its session binder for one backend.
func (r *Registry) Register(d Driver, b slotpool.Binder) {
	r.drivers[d.Backend()] = d
	r.binders[d.Backend()] = b
}

// Get returns the driver for a backend.
func (r *Registry) Get(backend model.Backend) (Driver, error) {
	d, ok := r.drivers[backend]
	if !ok {
		return nil, eris.Errorf("driver: no driver registered for backend %s", backend)
	}
	return d, nil
}

// Backends returns the registered backends in stable order.
func (r *Registry) Backends() []model.Backend {
	out := make([]model.Backend, 0, len(r.drivers))
	for b := range r.drivers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Binder returns a slotpool.Binder that dispatches to the per-backend
// binders. Unbind routes through the session's own backend, so it works
// even after the registry's contents change.
func (r *Registry) Binder() slotpool.Binder {
	return &binderMux{registry: r}
}

type binderMux struct {
	registry *Registry
}

func (m *binderMux) Bind(ctx context.Context, backend model.Backend, position int) (slotpool.Session, error) {
	b, ok := m.registry.binders[backend]
	if !ok {
		return nil, eris.Errorf("driver: no binder registered for backend %s", backend)
	}
	return b.Bind(ctx, backend, position)
}

func (m *binderMux) Unbind(ctx context.Context, s slotpool.Session) error {
	b, ok := m.registry.binders[s.Backend()]
	if !ok {
		return eris.Errorf("driver: no binder registered for backend %s", s.Backend())
	}
	return b.Unbind(ctx, s)
}
