// Package anthropicdrv implements the channel driver contract for the
// claude backend over the Anthropic Messages API.
package anthropicdrv

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/resilience"
	"github.com/yamakatsunamamugi/autoai/internal/slotpool"
)

// Config configures the Anthropic driver.
type Config struct {
	APIKey string

	// Models maps sheet model keys to API model IDs.
	Models map[string]string

	// Functions maps sheet function keys to system prompt presets.
	Functions map[string]string

	MaxTokens     int64
	SubmitTimeout time.Duration

	// RPS limits submit calls; zero disables limiting.
	RPS float64
}

// Driver drives the claude backend. Session state (prepared text, selected
// model and function) lives on the session handle, so concurrent sessions
// never interfere.
type Driver struct {
	client    sdk.Client
	models    map[string]string
	functions map[string]string
	maxTokens int64
	timeout   time.Duration
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// New creates the driver.
func New(cfg Config) *Driver {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("claude", string(model.PhaseSubmit))
	return &Driver{
		client:    sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		models:    cfg.Models,
		functions: cfg.Functions,
		maxTokens: maxTokens,
		timeout:   timeout,
		limiter:   limiter,
		retry:     retry,
	}
}

// Backend returns the backend this driver serves.
func (d *Driver) Backend() model.Backend {
	return model.BackendClaude
}

// PrepareInput stages the prompt text on the session.
func (d *Driver) PrepareInput(_ context.Context, sess slotpool.Session, text string) driver.PhaseResult {
	s, err := asSession(sess)
	if err != nil {
		return driver.PhaseResult{Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return driver.PhaseResult{OK: false, Err: eris.New("anthropicdrv: empty prompt")}
	}
	s.mu.Lock()
	s.prompt = text
	s.mu.Unlock()
	return driver.PhaseResult{OK: true}
}

// SelectParam resolves a model or function key. Unknown keys report
// OK=false so the executor's best-effort/strict policy decides the outcome.
func (d *Driver) SelectParam(_ context.Context, sess slotpool.Session, kind driver.ParamKind, value string) driver.PhaseResult {
	s, err := asSession(sess)
	if err != nil {
		return driver.PhaseResult{Err: err}
	}

	switch kind {
	case driver.ParamModel:
		id, ok := d.models[value]
		if !ok {
			return driver.PhaseResult{OK: false, Err: eris.Errorf("anthropicdrv: unknown model key %q", value)}
		}
		s.mu.Lock()
		s.modelID = id
		s.mu.Unlock()
		return driver.PhaseResult{OK: true, Displayed: id}

	case driver.ParamFunction:
		system, ok := d.functions[value]
		if !ok {
			return driver.PhaseResult{OK: false, Err: eris.Errorf("anthropicdrv: unknown function key %q", value)}
		}
		s.mu.Lock()
		s.system = system
		s.mu.Unlock()
		return driver.PhaseResult{OK: true, Displayed: value}

	default:
		return driver.PhaseResult{Err: eris.Errorf("anthropicdrv: unknown param kind %q", kind)}
	}
}

// SubmitAndCollect sends the staged prompt and blocks until the response
// arrives or the submit timeout elapses. Transient API errors are retried
// before the phase is reported failed.
func (d *Driver) SubmitAndCollect(ctx context.Context, sess slotpool.Session) driver.PhaseResult {
	s, err := asSession(sess)
	if err != nil {
		return driver.PhaseResult{Err: err}
	}

	s.mu.Lock()
	prompt, modelID, system := s.prompt, s.modelID, s.system
	s.mu.Unlock()

	if prompt == "" {
		return driver.PhaseResult{OK: false, Err: eris.New("anthropicdrv: no prompt prepared")}
	}
	if modelID == "" {
		return driver.PhaseResult{OK: false, Err: eris.New("anthropicdrv: no model selected")}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return driver.PhaseResult{Err: eris.Wrap(err, "anthropicdrv: limiter wait")}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	text, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (string, error) {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(modelID),
			MaxTokens: d.maxTokens,
			Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		}
		if system != "" {
			params.System = []sdk.TextBlockParam{{Text: system}}
		}
		msg, err := d.client.Messages.New(ctx, params)
		if err != nil {
			return "", eris.Wrap(err, "anthropicdrv: create message")
		}
		var b strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String(), nil
	})
	if err != nil {
		return driver.PhaseResult{OK: false, Err: err}
	}

	return driver.PhaseResult{OK: true, Displayed: text}
}
