// Package recap asks a language model for short feedback on a finished
// tutoring conversation.
package recap

import (
	"context"
	"fmt"
	"strings"
)

// Completer answers a single prompt under a system instruction.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type options struct {
	baseURL string
}

type Option func(*options)

// WithBaseURL points the provider at a different endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// ParseModel splits "provider/model".
func ParseModel(model string) (provider, name string, err error) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok || provider == "" || name == "" {
		return "", "", fmt.Errorf("invalid recap model %q: expected provider/model", model)
	}
	return provider, name, nil
}

// Keys holds provider credentials.
type Keys struct {
	Gemini string
	OpenAI string
}

// NewCompleter builds the completer for a "provider/model" string.
func NewCompleter(model string, keys Keys, opts ...Option) (Completer, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "gemini":
		if keys.Gemini == "" {
			return nil, fmt.Errorf("recap provider gemini: GEMINI_API_KEY is not set")
		}
		return newGemini(keys.Gemini, name, o)
	case "openai":
		if keys.OpenAI == "" {
			return nil, fmt.Errorf("recap provider openai: OPENAI_API_KEY is not set")
		}
		return newOpenAI(keys.OpenAI, name, o), nil
	default:
		return nil, fmt.Errorf("unknown recap provider %q: supported providers are gemini, openai", provider)
	}
}
