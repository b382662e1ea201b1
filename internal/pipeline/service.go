// Package pipeline connects the generation core to persistence: it stages
// files into the queue, runs the orchestrator over them, stores every
// outcome and the run history, and regenerates stored records.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/governor"
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/provider"
	"github.com/kalambet/stockmeta/internal/storage"
)

// ErrBusy is returned when a run is requested while another is active.
var ErrBusy = errors.New("a generation run is already in progress")

// MediaProcessor pre-processes uploads and renders thumbnails.
type MediaProcessor interface {
	orchestrator.Preprocessor
	Thumbnail(ctx context.Context, src media.Source) (string, error)
}

// Service is the generation workspace shared by the CLI and the server.
type Service struct {
	store    *storage.Store
	registry *provider.Registry
	keys     governor.Source
	media    MediaProcessor
	logger   *slog.Logger

	// UploadDir receives files staged from a reader.
	UploadDir string

	mu       sync.Mutex
	current  *Run
	sessions map[string]*orchestrator.Session
	rates    map[string]governor.Config
}

// New creates a Service.
func New(store *storage.Store, registry *provider.Registry, keys governor.Source, proc MediaProcessor) *Service {
	return &Service{
		store:    store,
		registry: registry,
		keys:     keys,
		media:    proc,
		logger:   slog.Default(),
		sessions: make(map[string]*orchestrator.Session),
		rates:    make(map[string]governor.Config),
	}
}

// Run is one active or finished generation run.
type Run struct {
	ID        string                `json:"id"`
	StartedAt time.Time             `json:"started_at"`
	Settings  Settings              `json:"settings"`
	Session   *orchestrator.Session `json:"-"`

	done    chan struct{}
	summary orchestrator.Summary
	err     error
}

// Done is closed when the run has finished and its history entry is stored.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (orchestrator.Summary, error) {
	select {
	case <-r.done:
		return r.summary, r.err
	case <-ctx.Done():
		return orchestrator.Summary{}, ctx.Err()
	}
}

// Summary returns the outcome once the run has finished.
func (r *Run) Summary() (orchestrator.Summary, bool) {
	if !r.Finished() {
		return orchestrator.Summary{}, false
	}
	return r.summary, true
}

// Err is the run's error once it has finished.
func (r *Run) Err() error {
	if !r.Finished() {
		return nil
	}
	return r.err
}

// Finished reports whether the run is over.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Current returns the latest run, nil if none was started.
func (s *Service) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// session returns the long-lived session of provider so the key index and
// rate windows carry over between runs and regenerations.
func (s *Service) session(name string, rate governor.Config) *orchestrator.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok || s.rates[name] != rate {
		sess = orchestrator.NewSession(name, s.keys, rate)
		s.sessions[name] = sess
		s.rates[name] = rate
	}
	return sess
}

// Start validates preconditions and launches a run over every ready item.
// hooks receive the run's events after they are persisted. ctx bounds the
// whole run, not just the call.
func (s *Service) Start(ctx context.Context, settings Settings, hooks orchestrator.Hooks) (*Run, error) {
	if err := s.checkIdle(); err != nil {
		return nil, err
	}
	if n, err := s.store.ResetProcessing(); err != nil {
		return nil, fmt.Errorf("resetting interrupted items: %w", err)
	} else if n > 0 {
		s.logger.Info("requeued interrupted items", "count", n)
	}
	staged, err := s.store.ListStaged()
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	items := readyItems(staged)
	if len(items) == 0 && len(staged) > 0 {
		return nil, failure.New(failure.Precondition, "files are not ready for processing")
	}
	return s.launch(ctx, settings, items, hooks)
}

// Describe generates metadata for one file outside the queue and waits
// for the record. The record is stored like any other run's.
func (s *Service) Describe(ctx context.Context, settings Settings, path string) (orchestrator.Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return orchestrator.Record{}, err
	}
	head, err := readHead(abs)
	if err != nil {
		return orchestrator.Record{}, err
	}
	name := filepath.Base(abs)
	it := orchestrator.Item{
		ID:       uuid.NewString(),
		Filename: name,
		Source:   media.Source{Path: abs, Filename: name, MimeType: media.DetectMIME(name, head)},
	}
	if err := s.checkIdle(); err != nil {
		return orchestrator.Record{}, err
	}

	var (
		mu  sync.Mutex
		out *orchestrator.Record
	)
	run, err := s.launch(ctx, settings, []orchestrator.Item{it}, orchestrator.Hooks{
		OnResult: func(rec orchestrator.Record) {
			mu.Lock()
			out = &rec
			mu.Unlock()
		},
	})
	if err != nil {
		return orchestrator.Record{}, err
	}
	if _, err := run.Wait(ctx); err != nil {
		return orchestrator.Record{}, err
	}
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return orchestrator.Record{}, errors.New("run stopped before the file was described")
	}
	return *out, nil
}

func (s *Service) checkIdle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !s.current.Finished() {
		return ErrBusy
	}
	return nil
}

func (s *Service) launch(ctx context.Context, settings Settings, items []orchestrator.Item, hooks orchestrator.Hooks) (*Run, error) {
	adapter, err := s.registry.Get(settings.Provider)
	if err != nil {
		return nil, failure.Wrap(failure.Precondition, err, "")
	}
	if len(items) == 0 {
		return nil, failure.New(failure.Precondition, "no files staged")
	}
	sess := s.session(adapter.Name(), settings.Rate)
	if _, err := sess.Governor().Keys(); err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Settings:  settings,
		Session:   sess,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.current != nil && !s.current.Finished() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.current = run
	s.mu.Unlock()

	err = s.store.CreateSession(storage.Session{
		ID:           run.ID,
		StartedAt:    run.StartedAt,
		Provider:     adapter.Name(),
		Model:        provider.ModelFor(adapter, settings.Model),
		Mode:         string(settings.Mode),
		Total:        len(items),
		SettingsJSON: string(snapshot),
	})
	if err != nil {
		run.err = err
		close(run.done)
		return nil, fmt.Errorf("recording run: %w", err)
	}

	orch := orchestrator.New(adapter, s.media, settings.orchestratorConfig())
	go s.execute(ctx, run, orch, items, hooks)
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *Run, orch *orchestrator.Orchestrator, items []orchestrator.Item, hooks orchestrator.Hooks) {
	defer close(run.done)

	sum, err := orch.Run(ctx, run.Session, items, s.persistHooks(run, hooks))
	run.summary, run.err = sum, err
	if err != nil && failure.Is(err, failure.Precondition) {
		s.logger.Warn("run rejected", "run", run.ID, "error", err)
	}

	status := "completed"
	if sum.Stopped {
		status = "stopped"
	}
	if ferr := s.store.FinishSession(run.ID, sum.Total, sum.Succeeded, status); ferr != nil {
		s.logger.Error("recording run result failed", "run", run.ID, "error", ferr)
	}

	if run.Settings.Export.AutoCSV && sum.Succeeded > 0 {
		path, xerr := s.autoExport(run.Settings)
		if xerr != nil {
			s.logger.Warn("automatic CSV export failed", "error", xerr)
			if hooks.OnNotice != nil {
				hooks.OnNotice(orchestrator.Notice{Level: orchestrator.NoticeWarn, Message: "CSV export failed: " + xerr.Error()})
			}
		} else if hooks.OnNotice != nil {
			hooks.OnNotice(orchestrator.Notice{Level: orchestrator.NoticeInfo, Message: "CSV exported to " + path})
		}
	}
}

// persistHooks stores queue transitions and results before handing events
// to the caller.
func (s *Service) persistHooks(run *Run, next orchestrator.Hooks) orchestrator.Hooks {
	return orchestrator.Hooks{
		OnProgress: next.OnProgress,
		OnNotice:   next.OnNotice,
		OnItem: func(it orchestrator.Item, st orchestrator.ItemStatus) {
			var err error
			switch st {
			case orchestrator.StatusDone, orchestrator.StatusError:
				err = s.store.RemoveStaged(it.ID)
			default:
				err = s.store.SetItemStatus(it.ID, string(st))
			}
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("updating queue failed", "item", it.ID, "status", st, "error", err)
			}
			if next.OnItem != nil {
				next.OnItem(it, st)
			}
		},
		OnResult: func(rec orchestrator.Record) {
			if err := s.store.AppendResult(resultFromRecord(run.ID, rec)); err != nil {
				s.logger.Error("storing result failed", "file", rec.Filename, "error", err)
			}
			if next.OnResult != nil {
				next.OnResult(rec)
			}
		},
	}
}

func (s *Service) autoExport(settings Settings) (string, error) {
	results, err := s.store.ListResults()
	if err != nil {
		return "", err
	}
	if dir := settings.Export.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	path := settings.csvPath()
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := export.CSV(f, export.FromStored(results), settings.exportOptions()); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// Regenerate re-runs the working-set record of filename with the current
// settings and replaces its fields in place. The record keeps the mode it
// was generated in.
func (s *Service) Regenerate(ctx context.Context, settings Settings, filename string) (orchestrator.Record, error) {
	adapter, err := s.registry.Get(settings.Provider)
	if err != nil {
		return orchestrator.Record{}, failure.Wrap(failure.Precondition, err, "")
	}
	stored, err := s.store.GetResult(filename)
	if err != nil {
		return orchestrator.Record{}, err
	}
	rec := export.FromStored([]storage.Result{stored})[0]

	cfg := settings.orchestratorConfig()
	if m, err := prompt.ParseMode(string(rec.Mode)); rec.Mode != "" && err == nil {
		cfg.Mode = m
	}
	sess := s.session(adapter.Name(), settings.Rate)
	orch := orchestrator.New(adapter, s.media, cfg)
	updated, err := orch.Regenerate(ctx, sess, rec, rec.Payload)
	if err != nil {
		return rec, err
	}
	if err := s.store.ReplaceResult(resultFromRecord(stored.SessionID, updated)); err != nil {
		return updated, fmt.Errorf("storing regenerated record: %w", err)
	}
	s.logger.Info("record regenerated", "file", filename, "provider", adapter.Name())
	return updated, nil
}

func readyItems(staged []storage.StagedItem) []orchestrator.Item {
	var items []orchestrator.Item
	for _, st := range staged {
		if st.Status != string(orchestrator.StatusReady) {
			continue
		}
		items = append(items, orchestrator.Item{
			ID:       st.ID,
			Filename: st.Filename,
			Source: media.Source{
				Path:     st.Path,
				Filename: st.Filename,
				MimeType: st.MimeType,
			},
			Thumbnail: st.Thumbnail,
		})
	}
	return items
}

func resultFromRecord(sessionID string, rec orchestrator.Record) storage.Result {
	return storage.Result{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Filename:    rec.Filename,
		Mode:        string(rec.Mode),
		Title:       rec.Title,
		Description: rec.Description,
		Keywords:    rec.Keywords,
		Category:    rec.Category,
		Thumbnail:   rec.Thumbnail,
		PayloadMime: rec.Payload.MimeType,
		PayloadData: rec.Payload.Data,
		Failed:      rec.Failed,
	}
}
