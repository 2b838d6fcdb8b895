package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

type stubSession struct {
	id      string
	backend model.Backend
}

func (s *stubSession) ID() string             { return s.id }
func (s *stubSession) Backend() model.Backend { return s.backend }

type stubDriver struct {
	backend model.Backend
}

func (d *stubDriver) Backend() model.Backend { return d.backend }
func (d *stubDriver) PrepareInput(context.Context, slotpool.Session, string) PhaseResult {
	return PhaseResult{OK: true}
}
func (d *stubDriver) SelectParam(context.Context, slotpool.Session, ParamKind, string) PhaseResult {
	return PhaseResult{OK: true}
}
func (d *stubDriver) SubmitAndCollect(context.Context, slotpool.Session) PhaseResult {
	return PhaseResult{OK: true, Displayed: "answer"}
}

type stubBinder struct {
	backend model.Backend
	unbinds int
}

func (b *stubBinder) Bind(_ context.Context, backend model.Backend, _ int) (slotpool.Session, error) {
	return &stubSession{id: "s-" + backend.String(), backend: backend}, nil
}

func (b *stubBinder) Unbind(_ context.Context, _ slotpool.Session) error {
	b.unbinds++
	return nil
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(model.BackendGemini)
	assert.Error(t, err)
}

func TestRegistry_Backends_StableOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubDriver{backend: model.BackendGemini}, &stubBinder{backend: model.BackendGemini})
	r.Register(&stubDriver{backend: model.BackendChatGPT}, &stubBinder{backend: model.BackendChatGPT})

	assert.Equal(t, []model.Backend{model.BackendChatGPT, model.BackendGemini}, r.Backends())
}

func TestBinderMux_Dispatch(t *testing.T) {
	r := NewRegistry()
	claudeBinder := &stubBinder{backend: model.BackendClaude}
	r.Register(&stubDriver{backend: model.BackendClaude}, claudeBinder)

	mux := r.Binder()
	sess, err := mux.Bind(context.Background(), model.BackendClaude, 0)
	require.NoError(t, err)
	assert.Equal(t, model.BackendClaude, sess.Backend())

	require.NoError(t, mux.Unbind(context.Background(), sess))
	assert.Equal(t, 1, claudeBinder.unbinds)

	_, err = mux.Bind(context.Background(), model.BackendChatGPT, 0)
	assert.Error(t, err, "unregistered backend must fail to bind")
}
