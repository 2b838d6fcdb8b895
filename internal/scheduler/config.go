package scheduler

import "time"

// Policy controls how parameter-selection failures are handled. The primary
// pass runs best-effort and proceeds past a failed selection; re-queued
// passes run strict and abort the task instead. The two policies are kept
// deliberately distinct rather than unified.
type Policy int

const (
	BestEffort Policy = iota
	Strict
)

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "best_effort"
}

// Config tunes the scheduler.
type Config struct {
	// BatchSize is the number of tasks driven together per batch; it is
	// clamped to SlotCount.
	BatchSize int

	// SlotCount is the number of positional execution slots.
	SlotCount int

	// MaxAttempts bounds channel-level retries of failed tasks.
	MaxAttempts int

	// Backoff is the delay ladder indexed by attempt; attempts past the
	// end hold at the last value.
	Backoff []time.Duration

	// Stagger offsets each concurrent submit start by position.
	Stagger time.Duration

	// SetupRetries bounds the internal re-setups when function selection
	// fails mid-batch.
	SetupRetries int

	// SourceURL is recorded in audit entries when the driver cannot
	// report a conversation URL itself.
	SourceURL string
}

func (c Config) withDefaults() Config {
	if c.SlotCount <= 0 {
		c.SlotCount = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.BatchSize > c.SlotCount {
		c.BatchSize = c.SlotCount
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{5 * time.Minute, 30 * time.Minute, 60 * time.Minute}
	}
	if c.Stagger < 0 {
		c.Stagger = 0
	} else if c.Stagger == 0 {
		c.Stagger = 5 * time.Second
	}
	if c.SetupRetries < 0 {
		c.SetupRetries = 0
	} else if c.SetupRetries == 0 {
		c.SetupRetries = 2
	}
	return c
}

// backoffFor returns the delay for an attempt index, holding at the last
// ladder entry.
func (c Config) backoffFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(c.Backoff) {
		attempt = len(c.Backoff) - 1
	}
	return c.Backoff[attempt]
}
