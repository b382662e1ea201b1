package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/stockmeta/internal/config"
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/provider"
	"github.com/kalambet/stockmeta/internal/storage"
)

// --- HTTP client ---

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"no run has been started","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useServer points the remote commands at ts.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

// captureStderr collects status output for the test's duration.
func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old, oldColor := stderr, noColor
	stderr, noColor = &buf, true
	t.Cleanup(func() { stderr, noColor = old, oldColor })
	return &buf
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	defer rootCmd.SetOut(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

const runViewJSON = `{"id":"run-1","provider":"gemini","mode":"metadata",
	"status":{"state":"paused","total":4,"processed":1,"succeeded":1,
	"progress":{"percent":25,"status":"Processing...","current_file":1,"total_files":4},"key_index":1},
	"finished":false}`

func TestRunStatusCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /runs/current": runViewJSON})
	useServer(t, ts)
	errOut := captureStderr(t)

	if _, err := execute(t, "run", "status"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "GET" || r.Path != "/runs/current" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	out := errOut.String()
	for _, want := range []string{"run-1", "paused", "25%", "(1/4)", "#1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunControlCommands(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /runs/current/pause":  runViewJSON,
		"POST /runs/current/resume": runViewJSON,
		"POST /runs/current/stop":   runViewJSON,
		"POST /runs":                runViewJSON,
	})
	useServer(t, ts)
	captureStderr(t)

	for _, action := range []string{"pause", "resume", "stop"} {
		if _, err := execute(t, "run", action); err != nil {
			t.Fatalf("run %s: %v", action, err)
		}
	}
	if _, err := execute(t, "run", "start", "--mode", "prompt"); err != nil {
		t.Fatalf("run start: %v", err)
	}

	want := []string{"/runs/current/pause", "/runs/current/resume", "/runs/current/stop", "/runs"}
	if len(ts.requests) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(ts.requests))
	}
	for i, w := range want {
		if ts.requests[i].Method != "POST" || ts.requests[i].Path != w {
			t.Errorf("request %d = %s %s, want POST %s", i, ts.requests[i].Method, ts.requests[i].Path, w)
		}
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[3].Body), &body); err != nil {
		t.Fatalf("start body: %v", err)
	}
	if body["mode"] != "prompt" {
		t.Errorf("start body = %v", body)
	}
}

func TestRunStatus_NoRun(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	useServer(t, ts)
	captureStderr(t)

	_, err := execute(t, "run", "status")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "no run has been started") {
		t.Errorf("error = %v", err)
	}
}

func TestCall_PlainError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("boom\n"))
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	var v any
	err := c.call(context.Background(), http.MethodGet, "/", nil, &v)
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != 500 || apiErr.Message != "boom" {
		t.Errorf("error = %#v", err)
	}
}

func TestCall_EmptyErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	err := c.call(context.Background(), http.MethodPost, "/runs/current/stop", nil, nil)
	if err == nil || err.Error() != "server returned 409: Conflict" {
		t.Errorf("error = %v", err)
	}
}

func TestClient_ServerDown(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", token: "t", httpClient: http.DefaultClient}
	err := c.call(context.Background(), http.MethodGet, "/health", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "server not reachable") {
		t.Errorf("error = %v", err)
	}
}

// --- local commands ---

type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub" }

func (stubAdapter) Call(ctx context.Context, req provider.Request) (string, error) {
	if req.Mode == prompt.ModePrompt {
		return `{"description":"A studio photo of a lemon."}`, nil
	}
	return `{"title":"Fresh lemon","description":"A lemon on a table.","keywords":["lemon","citrus","fruit"],"category":"Food"}`, nil
}

type stubMedia struct{}

func (stubMedia) Process(ctx context.Context, src media.Source) (media.Payload, error) {
	return media.Payload{Data: "AAAA", MimeType: src.MimeType}, nil
}

func (stubMedia) Thumbnail(ctx context.Context, src media.Source) (string, error) {
	return "", nil
}

// useLocalEnv wires the local commands to a temporary data dir.
func useLocalEnv(t *testing.T) config.Config {
	t.Helper()
	dataDir := t.TempDir()
	cfg := config.Config{
		Provider:   config.ProviderConfig{Active: "stub"},
		Rate:       config.RateConfig{Enabled: false},
		Generation: config.GenerationConfig{Mode: "metadata", Concurrency: 1, TitleLength: 100, DescLength: 150, KeywordsCount: 10},
		Export:     config.ExportConfig{Site: "General", FileExtension: "default", Dir: filepath.Join(dataDir, "out")},
		Storage:    config.StorageConfig{DataDir: dataDir},
	}

	oldEnv, oldLoad, oldInput := openEnv, loadConfig, controlInput
	openEnv = func() (*env, error) {
		store, err := storage.Open(dataDir)
		if err != nil {
			return nil, err
		}
		return wireEnv(cfg, store, provider.NewRegistry(stubAdapter{}), stubMedia{}), nil
	}
	loadConfig = func() (config.Config, error) { return cfg, nil }
	controlInput = strings.NewReader("")
	t.Cleanup(func() { openEnv, loadConfig, controlInput = oldEnv, oldLoad, oldInput })
	return cfg
}

func writePNGs(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("\x89PNG\r\n\x1a\n0000"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestKeysCommands(t *testing.T) {
	useLocalEnv(t)
	captureStderr(t)

	if _, err := execute(t, "keys", "add", "stub", "sk-1234567890abcd"); err != nil {
		t.Fatalf("keys add: %v", err)
	}
	if _, err := execute(t, "keys", "add", "nosuch", "sk-1234567890abcd"); err == nil {
		t.Error("expected error for unknown provider")
	}

	out, err := execute(t, "keys", "list", "stub")
	if err != nil {
		t.Fatalf("keys list: %v", err)
	}
	if !strings.Contains(out, "sk-1****abcd") {
		t.Errorf("list output missing masked key:\n%s", out)
	}
	if strings.Contains(out, "567890") {
		t.Errorf("list output leaks the key:\n%s", out)
	}

	if _, err := execute(t, "keys", "remove", "stub", "0"); err != nil {
		t.Fatalf("keys remove: %v", err)
	}
	if _, err := execute(t, "keys", "remove", "stub", "0"); err == nil {
		t.Error("expected error removing from an empty pool")
	}
}

func TestKeysUse(t *testing.T) {
	useLocalEnv(t)
	captureStderr(t)

	set := map[string]string{}
	old := setConfigKey
	setConfigKey = func(k, v string) error { set[k] = v; return nil }
	t.Cleanup(func() { setConfigKey = old })

	if _, err := execute(t, "keys", "use", "STUB"); err != nil {
		t.Fatalf("keys use: %v", err)
	}
	if set["provider.active"] != "stub" {
		t.Errorf("provider.active = %q, want stub", set["provider.active"])
	}
	if v, ok := set["provider.model"]; !ok || v != "" {
		t.Errorf("provider.model should be reset, got %q (set=%v)", v, ok)
	}
}

func TestStageAndQueue(t *testing.T) {
	useLocalEnv(t)
	errOut := captureStderr(t)
	dir := writePNGs(t, "a.png", "b.png")
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644)

	if _, err := execute(t, "stage", dir); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !strings.Contains(errOut.String(), "skipped notes.txt") {
		t.Errorf("expected a warning for notes.txt:\n%s", errOut.String())
	}

	out, err := execute(t, "queue", "list", "--json")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var items []storage.StagedItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("queue json: %v\n%s", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 staged items, got %d", len(items))
	}

	if _, err := execute(t, "queue", "clear"); err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if !strings.Contains(errOut.String(), "Removed 2 staged file(s)") {
		t.Errorf("clear output:\n%s", errOut.String())
	}
}

func TestGenerateExportHistory(t *testing.T) {
	cfg := useLocalEnv(t)
	errOut := captureStderr(t)
	dir := writePNGs(t, "one.png", "two.png")

	if _, err := execute(t, "generate"); err == nil {
		t.Error("expected an error without API keys")
	}
	if _, err := execute(t, "keys", "add", "stub", "sk-1234567890abcd"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "stage", dir); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "generate"); err != nil {
		t.Fatalf("generate: %v\n%s", err, errOut.String())
	}
	if !strings.Contains(errOut.String(), "Complete. 2 of 2 successful.") {
		t.Errorf("generate output:\n%s", errOut.String())
	}

	out, err := execute(t, "results", "list", "--json")
	if err != nil {
		t.Fatalf("results list: %v", err)
	}
	var recs []orchestrator.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("results json: %v\n%s", err, out)
	}
	if len(recs) != 2 || recs[0].Title != "Fresh lemon" {
		t.Fatalf("records = %+v", recs)
	}

	if _, err := execute(t, "results", "export", "--site", "adobe-stock", "--ext", "jpg"); err != nil {
		t.Fatalf("results export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Export.Dir, "adobe-stock_metadata.csv"))
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", data)
	}
	if !strings.HasPrefix(lines[1], `"one.jpg"`) {
		t.Errorf("first row = %q", lines[1])
	}

	out, err = execute(t, "history", "list", "--json")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	var sessions []storage.Session
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("history json: %v\n%s", err, out)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, a rejected run is not recorded; got %d", len(sessions))
	}
	last := sessions[0]
	if last.Status != "completed" || last.Succeeded != 2 {
		t.Errorf("session = %+v", last)
	}

	if _, err := execute(t, "results", "clear"); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "history", "export", last.ID, "--format", "yaml", "-o", "-")
	if err != nil {
		t.Fatalf("history export: %v", err)
	}
	if !strings.Contains(out, "title: Fresh lemon") {
		t.Errorf("yaml export:\n%s", out)
	}
}

func TestConfigSet(t *testing.T) {
	captureStderr(t)
	var gotKey, gotVal string
	old := setConfigKey
	setConfigKey = func(k, v string) error { gotKey, gotVal = k, v; return nil }
	t.Cleanup(func() { setConfigKey = old })

	if _, err := execute(t, "config", "set", "rate.per_minute", "15"); err != nil {
		t.Fatal(err)
	}
	if gotKey != "rate.per_minute" || gotVal != "15" {
		t.Errorf("set %q = %q", gotKey, gotVal)
	}
}

func TestConfigShowJSON(t *testing.T) {
	useLocalEnv(t)
	out, err := execute(t, "config", "show", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var infos []config.KeyInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("config json: %v", err)
	}
	found := false
	for _, ki := range infos {
		if ki.Key == "provider.active" {
			found = true
			if ki.Value != "stub" {
				t.Errorf("provider.active = %q, want stub", ki.Value)
			}
		}
	}
	if !found {
		t.Error("provider.active missing from config show")
	}
}

// --- helpers ---

type fakeSession struct {
	paused  bool
	stopped bool
}

func (f *fakeSession) Pause()       { f.paused = true }
func (f *fakeSession) Resume()      { f.paused = false }
func (f *fakeSession) Stop()        { f.stopped = true }
func (f *fakeSession) Paused() bool { return f.paused }

func TestHandleControl(t *testing.T) {
	s := &fakeSession{}
	if msg := handleControl(s, "p"); !s.paused || msg == "" {
		t.Errorf("p should pause, msg=%q", msg)
	}
	if msg := handleControl(s, " P \n"); s.paused || msg != "Resumed" {
		t.Errorf("second p should resume, msg=%q", msg)
	}
	if msg := handleControl(s, ""); msg != "" {
		t.Errorf("empty line should be ignored, got %q", msg)
	}
	if msg := handleControl(s, "x"); !strings.Contains(msg, "Type p") {
		t.Errorf("unknown input should print help, got %q", msg)
	}
	handleControl(s, "s")
	if !s.stopped {
		t.Error("s should stop")
	}
}

func TestReadControls(t *testing.T) {
	captureStderr(t)
	s := &fakeSession{}
	done := make(chan struct{})
	readControls(strings.NewReader("p\ns\n"), s, done)
	if !s.paused || !s.stopped {
		t.Errorf("session = %+v", s)
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := generateCmd
	t.Cleanup(func() {
		for _, f := range []string{"provider", "model", "mode", "site"} {
			cmd.Flags().Set(f, "")
		}
		cmd.Flags().Set("concurrency", "0")
		cmd.Flags().Set("no-rate-limit", "false")
	})
	cmd.Flags().Set("provider", "groq")
	cmd.Flags().Set("mode", "prompt")
	cmd.Flags().Set("concurrency", "7")
	cmd.Flags().Set("no-rate-limit", "true")
	cmd.Flags().Set("site", "Shutterstock")

	s := pipeline.Settings{Provider: "gemini", Model: "gemini-2.0-flash", Mode: prompt.ModeMetadata, Concurrency: 5}
	s.Rate.Enabled = true
	if err := applyRunFlags(cmd, &s); err != nil {
		t.Fatal(err)
	}
	if s.Provider != "groq" || s.Model != "" || s.Mode != prompt.ModePrompt || s.Concurrency != 7 || s.Rate.Enabled {
		t.Errorf("settings = %+v", s)
	}
	if s.Export.Site != "shutterstock" {
		t.Errorf("site = %q", s.Export.Site)
	}

	cmd.Flags().Set("mode", "haiku")
	if err := applyRunFlags(cmd, &s); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestExpandPaths(t *testing.T) {
	dir := writePNGs(t, "a.png", ".b.png")
	os.Mkdir(filepath.Join(dir, "nested"), 0o755)
	single := filepath.Join(dir, "a.png")

	got, err := expandPaths([]string{dir, single})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != single || got[1] != single {
		t.Errorf("expandPaths = %v", got)
	}
	if _, err := expandPaths([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestProgressBarAndTruncate(t *testing.T) {
	if got := progressBar(50, 10); got != "[#####-----]" {
		t.Errorf("progressBar(50) = %q", got)
	}
	if got := progressBar(150, 4); got != "[####]" {
		t.Errorf("progressBar(150) = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a\nb", 10); got != "a b" {
		t.Errorf("truncate newline = %q", got)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(errorStyle, "hello"); got != "hello" {
		t.Errorf("colorize with noColor=true = %q", got)
	}
}
