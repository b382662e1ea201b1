// Package provider adapts the supported multimodal model APIs to one call
// contract: a credential, a model, an instruction, and an image in, raw
// response text out. Failures are classified into the shared taxonomy.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/prompt"
)

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 60 * time.Second

// Request is one generation attempt.
type Request struct {
	Key     string
	Model   string
	Prompt  string
	Mode    prompt.Mode
	Payload media.Payload
}

// Adapter issues one upstream call per Request. Errors are *failure.Error.
type Adapter interface {
	Name() string
	Call(ctx context.Context, req Request) (string, error)
}

// Keyless is implemented by adapters that work without a credential.
type Keyless interface {
	KeysOptional() bool
}

// KeysOptional reports whether a may be called with an empty credential.
func KeysOptional(a Adapter) bool {
	k, ok := a.(Keyless)
	return ok && k.KeysOptional()
}

// Defaulter is implemented by adapters with a preferred model.
type Defaulter interface {
	DefaultModel() string
}

// ModelFor returns model, or the adapter's default when model is empty.
func ModelFor(a Adapter, model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	if d, ok := a.(Defaulter); ok {
		return d.DefaultModel()
	}
	return ""
}

// Options configure the built-in adapters.
type Options struct {
	Timeout time.Duration
	// BaseURLs overrides endpoints keyed by provider name.
	BaseURLs   map[string]string
	HTTPClient *http.Client
}

func (o Options) baseURL(name, fallback string) string {
	if u := strings.TrimSpace(o.BaseURLs[name]); u != "" {
		return strings.TrimRight(u, "/")
	}
	return fallback
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{}
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// Registry maps provider identifiers to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// DefaultRegistry returns gemini, grok, mistral, groq and ollama.
func DefaultRegistry(opts Options) *Registry {
	return NewRegistry(
		NewGemini(opts),
		NewGrok(opts),
		NewMistral(opts),
		NewGroq(opts),
		NewOllama(opts),
	)
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return a, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
