package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/stockmeta/internal/credentials"
	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadSize = 200 << 20    // 200MB

// AppDeps holds dependencies for the control API.
type AppDeps struct {
	Service *pipeline.Service
	Store   *storage.Store
	Keys    *credentials.Store
	// Settings returns the configured run settings; request bodies may
	// override provider, model and mode.
	Settings func() (pipeline.Settings, error)
	Token    string
}

// NewAppHandler returns the control API. /health is public; every other
// route requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/items", handleStageItems(deps))
		r.Get("/items", handleListItems(deps))
		r.Delete("/items", handleClearItems(deps))
		r.Delete("/items/{id}", handleRemoveItem(deps))

		r.Post("/runs", handleStartRun(deps))
		r.Get("/runs/current", handleCurrentRun(deps))
		r.Post("/runs/current/pause", handleRunControl(deps, (*orchestrator.Session).Pause))
		r.Post("/runs/current/resume", handleRunControl(deps, (*orchestrator.Session).Resume))
		r.Post("/runs/current/stop", handleRunControl(deps, (*orchestrator.Session).Stop))

		r.Get("/results", handleListResults(deps))
		r.Delete("/results", handleClearResults(deps))
		r.Get("/results/export.csv", handleExportCSV(deps))
		r.Post("/results/{filename}/regenerate", handleRegenerate(deps))

		r.Get("/history", handleListHistory(deps))
		r.Get("/history/{id}", handleGetHistory(deps))

		r.Get("/keys/{provider}", handleListKeys(deps))
		r.Post("/keys/{provider}", handleAddKey(deps))
		r.Delete("/keys/{provider}/{index}", handleRemoveKey(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStageItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		mr, err := r.MultipartReader()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "expected multipart/form-data: %v", err)
			return
		}

		staged := []storage.StagedItem{}
		var rejected []string
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
				return
			}
			if part.FileName() == "" {
				part.Close()
				continue
			}
			it, err := deps.Service.StageReader(r.Context(), part.FileName(), part)
			part.Close()
			if err != nil {
				slog.Warn("upload rejected", "file", part.FileName(), "error", err)
				rejected = append(rejected, fmt.Sprintf("%s: %v", part.FileName(), err))
				continue
			}
			it.Path = ""
			staged = append(staged, it)
		}
		if len(staged) == 0 {
			if len(rejected) == 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "no files in request")
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", strings.Join(rejected, "; "))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"staged": staged, "rejected": rejected})
	}
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Store.ListStaged()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list queue: %v", err)
			return
		}
		if items == nil {
			items = []storage.StagedItem{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleClearItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.ClearQueue()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear queue: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": n})
	}
}

func handleRemoveItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.RemoveStaged(chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// RunRequest overrides the configured settings for one run.
type RunRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

func (deps AppDeps) settingsFor(r *http.Request) (pipeline.Settings, error) {
	s, err := deps.Settings()
	if err != nil {
		return s, err
	}
	var req RunRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return s, fmt.Errorf("invalid request body: %w", err)
		}
	}
	if req.Provider != "" {
		s.Provider = req.Provider
	}
	if req.Model != "" {
		s.Model = req.Model
	}
	if req.Mode != "" {
		mode, err := prompt.ParseMode(req.Mode)
		if err != nil {
			return s, err
		}
		s.Mode = mode
	}
	return s, nil
}

func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := deps.settingsFor(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		// The run outlives the request.
		ctx := context.WithoutCancel(r.Context())
		run, err := deps.Service.Start(ctx, settings, orchestrator.Hooks{
			OnNotice: func(n orchestrator.Notice) {
				slog.Info("run notice", "level", n.Level, "file", n.Filename, "message", n.Message)
			},
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, viewRun(run))
	}
}

// RunView is the wire form of a run.
type RunView struct {
	ID        string                `json:"id"`
	StartedAt time.Time             `json:"started_at"`
	Provider  string                `json:"provider"`
	Mode      prompt.Mode           `json:"mode"`
	Status    orchestrator.Status   `json:"status"`
	Finished  bool                  `json:"finished"`
	Summary   *orchestrator.Summary `json:"summary,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func viewRun(run *pipeline.Run) RunView {
	v := RunView{
		ID:        run.ID,
		StartedAt: run.StartedAt,
		Provider:  run.Settings.Provider,
		Mode:      run.Settings.Mode,
		Status:    run.Session.Status(),
	}
	if sum, ok := run.Summary(); ok {
		v.Finished = true
		v.Summary = &sum
		if err := run.Err(); err != nil {
			v.Error = err.Error()
		}
	}
	return v
}

func handleCurrentRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := deps.Service.Current()
		if run == nil {
			httpError(w, http.StatusNotFound, "not_found", "no run has been started")
			return
		}
		writeJSON(w, http.StatusOK, viewRun(run))
	}
}

func handleRunControl(deps AppDeps, action func(*orchestrator.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := deps.Service.Current()
		if run == nil || run.Finished() {
			httpError(w, http.StatusConflict, "conflict", "no run in progress")
			return
		}
		action(run.Session)
		writeJSON(w, http.StatusOK, viewRun(run))
	}
}

func handleListResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := deps.Store.ListResults()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, export.FromStored(results))
	}
}

func handleClearResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.ClearResults()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
	}
}

func handleExportCSV(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := deps.Settings()
		if err != nil {
			writeErr(w, err)
			return
		}
		opts := export.Options{Site: settings.Export.Site, FileExtension: settings.Export.FileExtension}
		if q := r.URL.Query().Get("site"); q != "" {
			if opts.Site, err = export.ParseSite(q); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		if q := r.URL.Query().Get("ext"); q != "" {
			opts.FileExtension = q
		}

		var results []storage.Result
		if id := r.URL.Query().Get("session"); id != "" {
			results, err = deps.Store.SessionResults(id)
		} else {
			results, err = deps.Store.ListResults()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load results: %v", err)
			return
		}
		records := export.FromStored(results)

		var buf strings.Builder
		if err := export.CSV(&buf, records, opts); err != nil {
			if errors.Is(err, export.ErrEmpty) {
				httpError(w, http.StatusNotFound, "not_found", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
			export.Filename(opts.Site, records[0].Mode)))
		io.WriteString(w, buf.String())
	}
}

func handleRegenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := deps.settingsFor(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		rec, err := deps.Service.Regenerate(r.Context(), settings, chi.URLParam(r, "filename"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleListHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Store.ListSessions(parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, err := deps.Store.GetSession(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		results, err := deps.Store.SessionResults(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": sess,
			"results": export.FromStored(results),
		})
	}
}

func handleListKeys(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Keys.List(chi.URLParam(r, "provider"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list keys: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// AddKeyRequest adds one API key to a provider's pool.
type AddKeyRequest struct {
	Key string `json:"key"`
}

func handleAddKey(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req AddKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		idx, err := deps.Keys.Add(chi.URLParam(r, "provider"), req.Key)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, credentials.Entry{Index: idx, Masked: credentials.Mask(req.Key), Origin: credentials.OriginStore})
	}
}

func handleRemoveKey(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || idx < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid key index %q", chi.URLParam(r, "index"))
			return
		}
		if err := deps.Keys.Remove(chi.URLParam(r, "provider"), idx); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeErr(w, err)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
