package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/stockmeta/internal/failure"
)

// Preparer is implemented by adapters that need local setup before a run.
type Preparer interface {
	EnsureReady(ctx context.Context, model string, w io.Writer) error
}

// Prepare runs a's setup step, if it has one, for the resolved model.
func Prepare(ctx context.Context, a Adapter, model string, w io.Writer) error {
	p, ok := a.(Preparer)
	if !ok {
		return nil
	}
	return p.EnsureReady(ctx, ModelFor(a, model), w)
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaPullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EnsureReady checks that Ollama is running and pulls model when it is
// missing, writing progress to w.
func (o *Ollama) EnsureReady(ctx context.Context, model string, w io.Writer) error {
	models, err := o.listModels(ctx)
	if err != nil {
		return failure.Wrap(failure.Precondition, err, "Ollama is not reachable at %s (start it with: ollama serve)", o.baseURL)
	}
	for _, m := range models {
		// Ollama reports "llava:latest" for "llava".
		if m == model || strings.HasPrefix(m, model+":") {
			fmt.Fprintf(w, "model %s: ready\n", model)
			return nil
		}
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	if err := o.pull(ctx, model, func(p ollamaPullProgress) {
		if p.Total > 0 {
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	}); err != nil {
		return failure.Wrap(failure.Precondition, err, "pulling model %s", model)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}

func (o *Ollama) listModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.http.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// pull downloads model, reading the streamed progress to completion.
func (o *Ollama) pull(ctx context.Context, model string, onProgress func(ollamaPullProgress)) error {
	body, err := json.Marshal(map[string]any{"name": model, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p ollamaPullProgress
		if err := dec.Decode(&p); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("%s", p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}
