package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/stockmeta/internal/failure"
)

const (
	ollamaBaseURL      = "http://localhost:11434"
	ollamaDefaultModel = "llava"
)

// Ollama calls a local Ollama instance. It needs no credential; a non-empty
// key is forwarded as a bearer token for instances behind an auth proxy.
type Ollama struct {
	baseURL string
	http    poster
}

// NewOllama creates the local Ollama adapter.
func NewOllama(opts Options) *Ollama {
	return &Ollama{
		baseURL: opts.baseURL("ollama", ollamaBaseURL),
		http:    newPoster("ollama", opts),
	}
}

func (o *Ollama) Name() string         { return "ollama" }
func (o *Ollama) DefaultModel() string { return ollamaDefaultModel }
func (o *Ollama) KeysOptional() bool   { return true }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Call implements Adapter.
func (o *Ollama) Call(ctx context.Context, req Request) (string, error) {
	body := ollamaChatRequest{
		Model: ModelFor(o, req.Model),
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: req.Prompt,
			Images:  []string{req.Payload.Data},
		}},
		Format: "json",
	}
	headers := map[string]string{}
	if req.Key != "" {
		headers["Authorization"] = "Bearer " + req.Key
	}

	var resp ollamaChatResponse
	if err := o.http.post(ctx, o.baseURL+"/api/chat", headers, body, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		e := failure.New(failure.Other, "empty response")
		e.Provider = o.Name()
		return "", e
	}
	return text, nil
}

// IsRunning reports whether the Ollama server answers GET /api/tags.
func (o *Ollama) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.http.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
