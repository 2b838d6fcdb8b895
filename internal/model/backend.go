package model

import "github.com/rotisserie/eris"

// Backend identifies a chat AI execution backend.
type Backend int

const (
	// BackendChatGPT drives OpenAI's ChatGPT service.
	BackendChatGPT Backend = iota + 1
	// BackendClaude drives Anthropic's Claude service.
	BackendClaude
	// BackendGemini drives Google's Gemini service.
	BackendGemini
)

// AllBackends lists every backend in fan-out order.
var AllBackends = []Backend{BackendChatGPT, BackendClaude, BackendGemini}

// String returns the human-readable backend name.
func (b Backend) String() string {
	switch b {
	case BackendChatGPT:
		return "chatgpt"
	case BackendClaude:
		return "claude"
	case BackendGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// ParseBackend converts a string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "chatgpt":
		return BackendChatGPT, nil
	case "claude":
		return BackendClaude, nil
	case "gemini":
		return BackendGemini, nil
	default:
		return 0, eris.Errorf("unknown backend: %q (valid: chatgpt, claude, gemini)", s)
	}
}

// CompositeTarget is the target spec value that fans a row out to every backend.
const CompositeTarget = "all"

// ParseTarget resolves a target spec into the backends it addresses.
// A single backend name yields one backend; CompositeTarget yields all of them.
func ParseTarget(s string) ([]Backend, error) {
	if s == CompositeTarget {
		return AllBackends, nil
	}
	b, err := ParseBackend(s)
	if err != nil {
		return nil, err
	}
	return []Backend{b}, nil
}
