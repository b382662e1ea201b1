// Package governor assigns credentials to outgoing calls. It rotates
// through the active provider's key pool and enforces a per-key
// requests-per-minute ceiling over rolling 60 second windows.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/stockmeta/internal/failure"
)

const (
	windowLength = 60 * time.Second
	rolloverPad  = time.Second
)

// ErrExhausted is returned by Acquire when every credential in the pool is
// in the caller's exclude set.
var ErrExhausted = errors.New("governor: every credential excluded")

// Source supplies the ordered credential pool for a provider. It is read on
// every decision so edits made during a run take effect immediately.
type Source interface {
	Active(provider string) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(provider string) ([]string, error)

func (f SourceFunc) Active(provider string) ([]string, error) { return f(provider) }

// Waiter blocks until the given instant. It returns early with an error when
// the run is stopped or ctx is done.
type Waiter func(ctx context.Context, until time.Time) error

// Config is the caller-supplied rate policy.
type Config struct {
	Enabled   bool `json:"enabled"`
	PerMinute int  `json:"per_minute"`
}

// Lease is a credential granted for one call.
type Lease struct {
	Key   string
	Index int
}

type window struct {
	start time.Time
	count int
}

// Governor is safe for concurrent use. The rotating index and the windows
// are only read and written under mu.
type Governor struct {
	provider string
	source   Source
	cfg      Config
	now      func() time.Time
	wait     Waiter

	mu      sync.Mutex
	index   int
	windows map[string]*window
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithWaiter replaces the rollover wait.
func WithWaiter(w Waiter) Option {
	return func(g *Governor) { g.wait = w }
}

// New creates a Governor for provider.
func New(provider string, source Source, cfg Config, opts ...Option) *Governor {
	g := &Governor{
		provider: provider,
		source:   source,
		cfg:      cfg,
		now:      time.Now,
		windows:  make(map[string]*window),
	}
	g.wait = sleepUntil(func() time.Time { return g.now() })
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider returns the provider identifier the governor serves.
func (g *Governor) Provider() string { return g.provider }

// Keys returns the current credential pool.
func (g *Governor) Keys() ([]string, error) {
	keys, err := g.source.Active(g.provider)
	if err != nil {
		return nil, fmt.Errorf("reading credentials for %s: %w", g.provider, err)
	}
	if len(keys) == 0 {
		return nil, failure.New(failure.Precondition, "no API keys configured for %s", g.provider)
	}
	return keys, nil
}

// Acquire grants the first credential, scanning round-robin from the
// current index, that is not excluded and has room for need more requests
// in its window. When every candidate is over budget it waits for the
// earliest window to roll over and scans again.
func (g *Governor) Acquire(ctx context.Context, need int, exclude map[string]bool) (Lease, error) {
	if need < 1 {
		need = 1
	}
	if g.cfg.Enabled && need > g.cfg.PerMinute {
		return Lease{}, failure.New(failure.Precondition,
			"requested %d calls exceeds the per-minute ceiling of %d", need, g.cfg.PerMinute)
	}
	for {
		if err := ctx.Err(); err != nil {
			return Lease{}, err
		}
		keys, err := g.Keys()
		if err != nil {
			return Lease{}, err
		}
		lease, ok, until, err := g.scan(keys, need, exclude)
		if err != nil {
			return Lease{}, err
		}
		if ok {
			return lease, nil
		}
		if err := g.wait(ctx, until); err != nil {
			return Lease{}, err
		}
	}
}

func (g *Governor) scan(keys []string, need int, exclude map[string]bool) (Lease, bool, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := len(keys)
	var earliest time.Time
	candidates := 0
	for i := 0; i < n; i++ {
		idx := (g.index + i) % n
		key := keys[idx]
		if exclude[key] {
			continue
		}
		candidates++
		if !g.cfg.Enabled {
			return Lease{Key: key, Index: idx}, true, time.Time{}, nil
		}

		w := g.windows[key]
		if w == nil || now.Sub(w.start) > windowLength {
			w = &window{start: now}
			g.windows[key] = w
		}
		if w.count+need <= g.cfg.PerMinute {
			w.count += need
			return Lease{Key: key, Index: idx}, true, time.Time{}, nil
		}
		rollover := w.start.Add(windowLength + rolloverPad)
		if earliest.IsZero() || rollover.Before(earliest) {
			earliest = rollover
		}
	}
	if candidates == 0 {
		return Lease{}, false, time.Time{}, ErrExhausted
	}
	return Lease{}, false, earliest, nil
}

// AdvanceOnSuccess moves the rotating index forward by one.
func (g *Governor) AdvanceOnSuccess() { g.advance() }

// AdvanceOnRateLimitOrAuth moves the rotating index forward by one after a
// credential was rejected.
func (g *Governor) AdvanceOnRateLimitOrAuth() { g.advance() }

func (g *Governor) advance() {
	keys, err := g.source.Active(g.provider)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil || len(keys) == 0 {
		g.index = 0
		return
	}
	g.index = (g.index + 1) % len(keys)
}

// Index returns the current rotating index.
func (g *Governor) Index() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.index
}

// Usage returns the request count in each live window keyed by credential.
func (g *Governor) Usage() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	out := make(map[string]int, len(g.windows))
	for key, w := range g.windows {
		if now.Sub(w.start) <= windowLength {
			out[key] = w.count
		}
	}
	return out
}

func sleepUntil(now func() time.Time) Waiter {
	return func(ctx context.Context, until time.Time) error {
		d := until.Sub(now())
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}
