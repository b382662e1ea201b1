// Package orchestrator drives staged files through pre-processing, the
// provider call and normalization under a bounded parallelism width,
// rotating credentials and retrying until each item is resolved.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/governor"
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/normalize"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/provider"
)

// Preprocessor produces the upload payload for a staged file.
type Preprocessor interface {
	Process(ctx context.Context, src media.Source) (media.Payload, error)
}

// Config is the per-run generation policy.
type Config struct {
	Model       string
	Mode        prompt.Mode
	Options     prompt.Options
	Concurrency int
	// MaxRetries bounds retries of OTHER and PARSE_ERROR failures.
	MaxRetries   int
	RetryBackoff time.Duration
	Cooldown     time.Duration
	MaxCooldown  time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		Mode:         prompt.ModeMetadata,
		Options:      prompt.DefaultOptions(),
		Concurrency:  5,
		MaxRetries:   2,
		RetryBackoff: time.Second,
		Cooldown:     5 * time.Second,
		MaxCooldown:  30 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

// Orchestrator runs generation sessions against one provider adapter.
type Orchestrator struct {
	adapter provider.Adapter
	media   Preprocessor
	cfg     Config
	logger  *slog.Logger
}

// New creates an Orchestrator.
func New(adapter provider.Adapter, proc Preprocessor, cfg Config) *Orchestrator {
	return &Orchestrator{
		adapter: adapter,
		media:   proc,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default().With("provider", adapter.Name()),
	}
}

// Config returns the effective policy.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run processes items until every one is resolved or stop is requested.
// Precondition failures are returned before any network activity; item
// failures become error records and never abort the run.
func (o *Orchestrator) Run(ctx context.Context, sess *Session, items []Item, hooks Hooks) (Summary, error) {
	if len(items) == 0 {
		return Summary{}, failure.New(failure.Precondition, "no files staged")
	}
	if _, err := sess.Governor().Keys(); err != nil {
		return Summary{}, err
	}
	if err := sess.begin(len(items), hooks); err != nil {
		return Summary{}, failure.Wrap(failure.Precondition, err, "")
	}

	o.logger.Info("run started", "items", len(items), "mode", o.cfg.Mode, "concurrency", o.cfg.Concurrency)
	sess.emitStatus(fmt.Sprintf("Starting generation of %d files...", len(items)))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Concurrency)
	for _, it := range items {
		if err := sess.gate(ctx, o.cfg.PollInterval); err != nil {
			break
		}
		g.Go(func() error {
			o.processItem(ctx, sess, it)
			return nil
		})
	}
	g.Wait()

	sum := sess.finish()
	final := sess.progressFinal(sum)
	if h := hooks.OnProgress; h != nil {
		sess.hookMu.Lock()
		h(final)
		sess.hookMu.Unlock()
	}
	o.logger.Info("run finished", "status", sum.Status, "processed", sum.Processed, "succeeded", sum.Succeeded)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (o *Orchestrator) processItem(ctx context.Context, sess *Session, it Item) {
	if err := sess.gate(ctx, o.cfg.PollInterval); err != nil {
		return
	}
	sess.itemStatus(it, StatusProcessing)

	rec, err := o.generate(ctx, sess, it)
	if stopped(ctx, sess, err) {
		o.logger.Debug("item left queued after stop", "item", it.ID)
		sess.itemStatus(it, StatusReady)
		return
	}
	if err != nil {
		o.logger.Warn("item failed", "item", it.ID, "file", it.Filename, "kind", failure.KindOf(err), "error", err)
		sess.notify(Notice{Level: NoticeError, Filename: it.Filename, Message: err.Error()})
		rec = errorRecord(it, o.cfg.Mode, rec.Payload, err.Error())
	}
	sess.record(it, rec)
}

// stopped reports whether the item was interrupted by the session or the
// run's context. Adapter errors that wrap a context error, such as a
// per-request timeout, are ordinary failures.
func stopped(ctx context.Context, sess *Session, err error) bool {
	return errors.Is(err, errStopped) || sess.Stopped() || ctx.Err() != nil
}

// generate resolves one item. The returned record carries the payload even
// on failure so an error record can be regenerated later.
func (o *Orchestrator) generate(ctx context.Context, sess *Session, it Item) (Record, error) {
	payload, err := o.media.Process(ctx, it.Source)
	if err != nil {
		if failure.KindOf(err) != failure.Media {
			err = failure.Wrap(failure.Media, err, "processing %s", it.Filename)
		}
		return Record{}, err
	}
	partial := Record{Payload: payload}
	instruction := prompt.Build(o.cfg.Options, o.cfg.Mode)
	gov := sess.Governor()

	tried := make(map[string]bool)
	allAuth := true
	cooldown := o.cfg.Cooldown
	failures := 0

	for {
		if err := sess.gate(ctx, o.cfg.PollInterval); err != nil {
			return partial, err
		}

		lease, err := gov.Acquire(ctx, 1, tried)
		switch {
		case errors.Is(err, governor.ErrExhausted):
			if allAuth {
				return partial, failure.New(failure.Auth, "all provided credentials are invalid")
			}
			sess.notify(Notice{Level: NoticeWarn, Filename: it.Filename,
				Message: fmt.Sprintf("all keys rate limited, cooling down for %s", cooldown)})
			sess.emitStatus(fmt.Sprintf("All keys rate limited. Retrying in %ds...", int(cooldown.Seconds())))
			if err := sess.sleep(ctx, cooldown); err != nil {
				return partial, err
			}
			cooldown = min(cooldown*2, o.cfg.MaxCooldown)
			tried = make(map[string]bool)
			allAuth = true
			continue
		case err != nil:
			return partial, err
		}

		fields, err := o.attempt(ctx, lease.Key, payload, instruction)
		if sess.Stopped() {
			return partial, errStopped
		}
		if err == nil {
			gov.AdvanceOnSuccess()
			return o.successRecord(it, payload, fields), nil
		}

		switch kind := failure.KindOf(err); kind {
		case failure.Auth, failure.RateLimit:
			if kind == failure.RateLimit {
				allAuth = false
			}
			tried[lease.Key] = true
			gov.AdvanceOnRateLimitOrAuth()
			o.logger.Info("rotating key", "item", it.ID, "key_index", lease.Index, "kind", kind)
			sess.notify(Notice{Level: NoticeWarn, Filename: it.Filename,
				Message: fmt.Sprintf("key #%d: %s, rotating to the next key", lease.Index+1, kind)})
		default:
			failures++
			if failures > o.cfg.MaxRetries {
				return partial, err
			}
			backoff := o.cfg.RetryBackoff << (failures - 1)
			o.logger.Info("retrying item", "item", it.ID, "attempt", failures, "backoff", backoff, "error", err)
			if err := sess.sleep(ctx, backoff); err != nil {
				return partial, err
			}
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, key string, payload media.Payload, instruction string) (normalize.Fields, error) {
	raw, err := o.adapter.Call(ctx, provider.Request{
		Key:     key,
		Model:   o.cfg.Model,
		Prompt:  instruction,
		Mode:    o.cfg.Mode,
		Payload: payload,
	})
	if err != nil {
		return normalize.Fields{}, err
	}
	return normalize.Normalize(raw, o.cfg.Mode, o.cfg.Options)
}

func (o *Orchestrator) successRecord(it Item, payload media.Payload, f normalize.Fields) Record {
	rec := Record{
		Filename:    it.Filename,
		Thumbnail:   it.Thumbnail,
		Mode:        o.cfg.Mode,
		Description: f.Description,
		Payload:     payload,
	}
	if o.cfg.Mode == prompt.ModeMetadata {
		rec.Title = f.Title
		rec.Category = f.Category
		rec.Keywords = f.Keywords
		if rec.Keywords == nil {
			rec.Keywords = []string{}
		}
	}
	return rec
}

// Regenerate re-runs one record outside the main loop: one call with the
// current key, one fallback to the next key, then the error.
func (o *Orchestrator) Regenerate(ctx context.Context, sess *Session, rec Record, payload media.Payload) (Record, error) {
	if payload.Data == "" {
		return rec, failure.New(failure.Precondition, "no stored upload for %s", rec.Filename)
	}
	gov := sess.Governor()
	instruction := prompt.Build(o.cfg.Options, o.cfg.Mode)
	it := Item{Filename: rec.Filename, Thumbnail: rec.Thumbnail}

	lease, err := gov.Acquire(ctx, 1, nil)
	if err != nil {
		return rec, err
	}
	fields, err := o.attempt(ctx, lease.Key, payload, instruction)
	if err != nil {
		first := err
		o.logger.Info("regenerate failed, trying next key", "file", rec.Filename, "error", err)
		gov.AdvanceOnRateLimitOrAuth()
		next, aerr := gov.Acquire(ctx, 1, map[string]bool{lease.Key: true})
		if aerr != nil {
			return rec, first
		}
		if fields, err = o.attempt(ctx, next.Key, payload, instruction); err != nil {
			return rec, err
		}
	}
	gov.AdvanceOnSuccess()
	return o.successRecord(it, payload, fields), nil
}
