package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/governor"
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/provider"
	"github.com/kalambet/stockmeta/internal/storage"
)

type mockAdapter struct {
	mu      sync.Mutex
	reply   string
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (m *mockAdapter) Name() string { return "mock" }

func (m *mockAdapter) Call(ctx context.Context, req provider.Request) (string, error) {
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reply, nil
}

func (m *mockAdapter) setReply(s string) {
	m.mu.Lock()
	m.reply = s
	m.mu.Unlock()
}

type mockMedia struct{}

func (mockMedia) Process(ctx context.Context, src media.Source) (media.Payload, error) {
	return media.Payload{Data: "AAAA", MimeType: "image/jpeg"}, nil
}

func (mockMedia) Thumbnail(ctx context.Context, src media.Source) (string, error) {
	return "data:image/jpeg;base64,AA==", nil
}

type fixture struct {
	svc     *Service
	store   *storage.Store
	adapter *mockAdapter
	keys    []string
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:   store,
		adapter: &mockAdapter{reply: `{"title":"red apple","description":"An apple.","keywords":["apple","fruit"],"category":"Food"}`},
		keys:    []string{"k1"},
		dir:     t.TempDir(),
	}
	src := governor.SourceFunc(func(string) ([]string, error) { return f.keys, nil })
	f.svc = New(store, provider.NewRegistry(f.adapter), src, mockMedia{})
	f.svc.UploadDir = filepath.Join(f.dir, "uploads")
	return f
}

func (f *fixture) settings() Settings {
	return Settings{
		Provider:    "mock",
		Mode:        prompt.ModeMetadata,
		Options:     prompt.DefaultOptions(),
		Rate:        governor.Config{Enabled: false},
		Concurrency: 2,
		MaxRetries:  0,
		Export:      ExportSettings{Site: export.SiteAdobeStock, Dir: filepath.Join(f.dir, "out")},
	}
}

func (f *fixture) stageFiles(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(f.dir, n)
		if err := os.WriteFile(p, []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Stage(context.Background(), p); err != nil {
			t.Fatalf("Stage(%s): %v", n, err)
		}
	}
}

func waitRun(t *testing.T, run *Run) orchestrator.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return sum
}

func TestStage(t *testing.T) {
	f := newFixture(t)
	f.stageFiles(t, "a.png", "b.jpg")

	items, err := f.store.ListStaged()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].MimeType != "image/png" || items[1].MimeType != "image/jpeg" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Thumbnail == "" || !filepath.IsAbs(items[0].Path) {
		t.Errorf("item = %+v", items[0])
	}
}

func TestStageUnsupported(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(f.dir, "notes.txt")
	os.WriteFile(p, []byte("hello"), 0o644)

	_, err := f.svc.Stage(context.Background(), p)
	if !failure.Is(err, failure.Media) {
		t.Errorf("err = %v, want MEDIA_ERROR", err)
	}
}

func TestStageReader(t *testing.T) {
	f := newFixture(t)
	it, err := f.svc.StageReader(context.Background(), "../../evil/photo.png", strings.NewReader("\x89PNG\r\n\x1a\n"))
	if err != nil {
		t.Fatalf("StageReader: %v", err)
	}
	if it.Filename != "photo.png" {
		t.Errorf("Filename = %q", it.Filename)
	}
	if filepath.Dir(it.Path) != f.svc.UploadDir {
		t.Errorf("Path = %q, want inside %q", it.Path, f.svc.UploadDir)
	}
}

func TestStartPreconditions(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Start(context.Background(), f.settings(), orchestrator.Hooks{}); !failure.Is(err, failure.Precondition) {
		t.Errorf("empty queue: err = %v", err)
	}

	f.stageFiles(t, "a.png")
	f.keys = nil
	if _, err := f.svc.Start(context.Background(), f.settings(), orchestrator.Hooks{}); !failure.Is(err, failure.Precondition) {
		t.Errorf("no keys: err = %v", err)
	}

	s := f.settings()
	s.Provider = "nope"
	if _, err := f.svc.Start(context.Background(), s, orchestrator.Hooks{}); !failure.Is(err, failure.Precondition) {
		t.Errorf("unknown provider: err = %v", err)
	}
	if f.adapter.calls != 0 {
		t.Errorf("adapter called %d times", f.adapter.calls)
	}
}

func TestRunPersistsEverything(t *testing.T) {
	f := newFixture(t)
	f.stageFiles(t, "a.png", "b.png", "c.png")

	var mu sync.Mutex
	var got []orchestrator.Record
	settings := f.settings()
	settings.Export.AutoCSV = true
	run, err := f.svc.Start(context.Background(), settings, orchestrator.Hooks{
		OnResult: func(r orchestrator.Record) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum := waitRun(t, run)

	if sum.Succeeded != 3 || sum.Status != "Complete. 3 of 3 successful." {
		t.Errorf("summary = %+v", sum)
	}
	if len(got) != 3 {
		t.Errorf("hook saw %d results", len(got))
	}

	queue, _ := f.store.ListStaged()
	if len(queue) != 0 {
		t.Errorf("queue not drained: %+v", queue)
	}
	results, _ := f.store.ListResults()
	if len(results) != 3 || results[0].Title != "Red apple" || results[0].PayloadData != "AAAA" {
		t.Errorf("results = %+v", results)
	}

	hist, err := f.store.GetSession(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if hist.Status != "completed" || hist.Succeeded != 3 || hist.Provider != "mock" {
		t.Errorf("history = %+v", hist)
	}
	if !strings.Contains(hist.SettingsJSON, `"mode":"metadata"`) {
		t.Errorf("settings snapshot = %s", hist.SettingsJSON)
	}

	csv, err := os.ReadFile(filepath.Join(f.dir, "out", "adobe-stock_metadata.csv"))
	if err != nil {
		t.Fatalf("auto CSV missing: %v", err)
	}
	if !strings.HasPrefix(string(csv), "Filename,Title,Keywords,Category\n") {
		t.Errorf("csv = %s", csv)
	}
}

func TestStartWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.adapter.release = make(chan struct{})
	f.stageFiles(t, "a.png")

	run, err := f.svc.Start(context.Background(), f.settings(), orchestrator.Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Start(context.Background(), f.settings(), orchestrator.Hooks{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if f.svc.Current() != run {
		t.Error("Current does not return the active run")
	}
	close(f.adapter.release)
	waitRun(t, run)
	if !run.Finished() {
		t.Error("run not finished after Wait")
	}
}

func TestStopRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.adapter.release = make(chan struct{})
	f.adapter.entered = make(chan struct{}, 1)
	f.stageFiles(t, "a.png", "b.png", "c.png")

	s := f.settings()
	s.Concurrency = 1
	run, err := f.svc.Start(context.Background(), s, orchestrator.Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	<-f.adapter.entered
	run.Session.Stop()
	close(f.adapter.release)
	sum := waitRun(t, run)

	if !sum.Stopped {
		t.Fatalf("summary = %+v", sum)
	}
	hist, _ := f.store.GetSession(run.ID)
	if hist.Status != "stopped" {
		t.Errorf("history status = %q", hist.Status)
	}
	queue, _ := f.store.ListStaged()
	for _, it := range queue {
		if it.Status != "ready" {
			t.Errorf("left %s in status %q", it.Filename, it.Status)
		}
	}
	if len(queue) == 0 {
		t.Error("stopped run drained the whole queue")
	}
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t)
	f.stageFiles(t, "a.png")
	run, err := f.svc.Start(context.Background(), f.settings(), orchestrator.Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	waitRun(t, run)

	f.adapter.setReply(`{"title":"green pear","description":"A pear.","keywords":"pear, fruit","category":"Food"}`)
	rec, err := f.svc.Regenerate(context.Background(), f.settings(), "a.png")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if rec.Title != "Green pear" {
		t.Errorf("Title = %q", rec.Title)
	}
	stored, err := f.store.GetResult("a.png")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Title != "Green pear" || len(stored.Keywords) != 2 {
		t.Errorf("stored = %+v", stored)
	}

	if _, err := f.svc.Regenerate(context.Background(), f.settings(), "missing.png"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing record: err = %v", err)
	}
}

func TestRegenerateKeepsRecordMode(t *testing.T) {
	f := newFixture(t)
	f.stageFiles(t, "a.png")
	f.adapter.setReply(`{"description":"A studio photo of an apple."}`)
	settings := f.settings()
	settings.Mode = prompt.ModePrompt
	run, err := f.svc.Start(context.Background(), settings, orchestrator.Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	waitRun(t, run)

	f.adapter.setReply(`{"title":"pear","description":"A pear on a table.","keywords":["pear"],"category":"Food"}`)
	rec, err := f.svc.Regenerate(context.Background(), f.settings(), "a.png")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if rec.Mode != prompt.ModePrompt || rec.Title != "" || len(rec.Keywords) != 0 {
		t.Errorf("rec = %+v, want a prompt-mode record", rec)
	}
	if rec.Description != "A pear on a table." {
		t.Errorf("Description = %q", rec.Description)
	}
	stored, err := f.store.GetResult("a.png")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Mode != string(prompt.ModePrompt) || stored.Title != "" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestDescribe(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(f.dir, "single.png")
	os.WriteFile(p, []byte("\x89PNG\r\n\x1a\n"), 0o644)

	rec, err := f.svc.Describe(context.Background(), f.settings(), p)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if rec.Filename != "single.png" || rec.Title != "Red apple" {
		t.Errorf("rec = %+v", rec)
	}
	if _, err := f.store.GetResult("single.png"); err != nil {
		t.Errorf("record not stored: %v", err)
	}
	run := f.svc.Current()
	if sum, ok := run.Summary(); !ok || sum.Succeeded != 1 {
		t.Errorf("summary = %+v, %v", sum, ok)
	}
}
