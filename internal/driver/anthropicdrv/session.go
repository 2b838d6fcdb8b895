package anthropicdrv

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

// Session holds the per-slot conversation state the driver mutates across
// phases.
type Session struct {
	id       string
	position int

	mu      sync.Mutex
	prompt  string
	modelID string
	system  string
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Backend returns the backend this session is bound to.
func (s *Session) Backend() model.Backend { return model.BackendClaude }

// Binder creates Anthropic sessions. The API has no live window to open or
// close, so binding is cheap and unbinding is always safe.
type Binder struct{}

// Bind creates a fresh session for the slot position.
func (Binder) Bind(_ context.Context, backend model.Backend, position int) (slotpool.Session, error) {
	if backend != model.BackendClaude {
		return nil, eris.Errorf("anthropicdrv: cannot bind backend %s", backend)
	}
	return &Session{id: uuid.NewString(), position: position}, nil
}

// Unbind discards the session. Safe to call even if already discarded.
func (Binder) Unbind(context.Context, slotpool.Session) error {
	return nil
}

func asSession(sess slotpool.Session) (*Session, error) {
	s, ok := sess.(*Session)
	if !ok {
		return nil, eris.Errorf("anthropicdrv: foreign session type %T", sess)
	}
	return s, nil
}
