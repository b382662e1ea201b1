package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kalambet/stockmeta/internal/governor"
)

// errStopped is returned from waits and attempts once stop is requested.
var errStopped = errors.New("stopped")

// State is the session lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// Status is a point-in-time view of a session.
type Status struct {
	State     State          `json:"state"`
	Provider  string         `json:"provider"`
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Progress  Progress       `json:"progress"`
	KeyIndex  int            `json:"key_index"`
	Usage     map[string]int `json:"-"`
}

// Session is the live state of one run: stop and pause flags, counters,
// and the credential governor. It is reset at the start of every run.
type Session struct {
	gov   *governor.Governor
	clock Clock

	mu             sync.Mutex
	state          State
	stopped        bool
	stopCh         chan struct{}
	paused         bool
	pauseAnnounced bool
	stopAnnounced  bool
	total          int
	processed      int
	succeeded      int
	last           Progress
	hooks          Hooks

	// hookMu serializes hook calls so the progress sequence is monotonic.
	hookMu sync.Mutex
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithClock replaces the wall clock used for waits.
func WithClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// NewSession creates a session whose governor reads keys for provider from
// source and applies rate.
func NewSession(provider string, source governor.Source, rate governor.Config, opts ...SessionOption) *Session {
	s := &Session{
		clock:  realClock{},
		state:  StateIdle,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gov = governor.New(provider, source, rate,
		governor.WithClock(func() time.Time { return s.clock.Now() }),
		governor.WithWaiter(s.waitRollover),
	)
	return s
}

// Governor returns the session's credential governor.
func (s *Session) Governor() *governor.Governor { return s.gov }

// Stop requests cooperative cancellation. In-flight calls finish but
// their results are discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Pause suspends new dispatch and new attempts.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume lifts a pause.
func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Stopped reports whether stop was requested.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.state,
		Provider:  s.gov.Provider(),
		Total:     s.total,
		Processed: s.processed,
		Succeeded: s.succeeded,
		Progress:  s.last,
	}
	if st.State == StateRunning && s.paused {
		st.State = StatePaused
	}
	s.mu.Unlock()
	st.KeyIndex = s.gov.Index()
	st.Usage = s.gov.Usage()
	return st
}

// begin resets the session for a run of total items.
func (s *Session) begin(total int, hooks Hooks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return errors.New("a run is already in progress")
	}
	s.state = StateRunning
	s.stopped = false
	s.stopCh = make(chan struct{})
	s.paused = false
	s.pauseAnnounced = false
	s.stopAnnounced = false
	s.total = total
	s.processed = 0
	s.succeeded = 0
	s.last = Progress{TotalFiles: total}
	s.hooks = hooks
	return nil
}

func (s *Session) finish() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Total:     s.total,
		Processed: s.processed,
		Succeeded: s.succeeded,
		Stopped:   s.stopped,
	}
	if s.stopped {
		s.state = StateStopped
		sum.Status = "Stopped."
	} else {
		s.state = StateCompleted
		sum.Status = fmt.Sprintf("Complete. %d of %d successful.", s.succeeded, s.total)
	}
	return sum
}

func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

func (s *Session) stopChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh
}

func (s *Session) progressLocked(status string) Progress {
	pct := 0.0
	if s.total > 0 {
		pct = math.Round(float64(s.processed)/float64(s.total)*1000) / 10
	}
	p := Progress{Percent: pct, Status: status, CurrentFile: s.processed, TotalFiles: s.total}
	s.last = p
	return p
}

// emitStatus publishes a status change at the current percent.
func (s *Session) emitStatus(status string) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	p := s.progressLocked(status)
	hooks := s.hooks
	s.mu.Unlock()
	if hooks.OnProgress != nil {
		hooks.OnProgress(p)
	}
}

func (s *Session) notify(n Notice) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	if hooks.OnNotice != nil {
		hooks.OnNotice(n)
	}
}

func (s *Session) itemStatus(it Item, st ItemStatus) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	if hooks.OnItem != nil {
		hooks.OnItem(it, st)
	}
}

// record appends an outcome, bumps the counters and publishes progress.
func (s *Session) record(it Item, rec Record) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	s.processed++
	if !rec.Failed {
		s.succeeded++
	}
	p := s.progressLocked(fmt.Sprintf("Processed %d of %d: %s", s.processed, s.total, it.Filename))
	hooks := s.hooks
	s.mu.Unlock()

	if hooks.OnResult != nil {
		hooks.OnResult(rec)
	}
	if hooks.OnItem != nil {
		st := StatusDone
		if rec.Failed {
			st = StatusError
		}
		hooks.OnItem(it, st)
	}
	if hooks.OnProgress != nil {
		hooks.OnProgress(p)
	}
}

// sleep waits for d, returning early when stop is requested or ctx ends.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopChan():
		return errStopped
	case <-s.clock.After(d):
		return nil
	}
}

// gate blocks while paused and fails once stop is requested.
func (s *Session) gate(ctx context.Context, poll time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		stopped, paused := s.stopped, s.paused
		announceStop := stopped && !s.stopAnnounced
		if announceStop {
			s.stopAnnounced = true
		}
		announcePause := paused && !s.pauseAnnounced
		announceResume := !paused && s.pauseAnnounced
		s.pauseAnnounced = paused
		s.mu.Unlock()

		switch {
		case announceStop:
			s.emitStatus("Stopping...")
		case announcePause:
			s.emitStatus("Paused.")
		case announceResume:
			s.emitStatus("Resuming...")
		}
		if stopped {
			return errStopped
		}
		if !paused {
			return nil
		}
		if err := s.sleep(ctx, poll); err != nil {
			return err
		}
	}
}

// waitRollover is the governor's wait: it counts down to the next window
// and observes stop while a run is active.
func (s *Session) waitRollover(ctx context.Context, until time.Time) error {
	for {
		remaining := until.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}
		if s.running() {
			s.emitStatus(fmt.Sprintf("Rate limit reached. Waiting %ds for the next window...",
				int(math.Ceil(remaining.Seconds()))))
		}
		step := time.Second
		if remaining < step {
			step = remaining
		}
		if s.running() {
			if err := s.sleep(ctx, step); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(step):
		}
	}
}

func (s *Session) progressFinal(sum Summary) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked(sum.Status)
}
