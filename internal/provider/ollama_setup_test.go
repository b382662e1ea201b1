package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/stockmeta/internal/failure"
)

func ollamaServer(t *testing.T, models string, pulled *bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprintf(w, `{"models":[%s]}`, models)
		case "/api/pull":
			*pulled = true
			fmt.Fprintln(w, `{"status":"pulling manifest"}`)
			fmt.Fprintln(w, `{"status":"downloading","total":100,"completed":50}`)
			fmt.Fprintln(w, `{"status":"success"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_EnsureReady_Present(t *testing.T) {
	var pulled bool
	srv := ollamaServer(t, `{"name":"llava:latest"}`, &pulled)
	a := NewOllama(opts("ollama", srv.URL))

	var out bytes.Buffer
	if err := Prepare(context.Background(), a, "", &out); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if pulled {
		t.Error("present model should not be pulled")
	}
	if !strings.Contains(out.String(), "model llava: ready") {
		t.Errorf("output = %q", out.String())
	}
}

func TestOllama_EnsureReady_Pulls(t *testing.T) {
	var pulled bool
	srv := ollamaServer(t, `{"name":"moondream:latest"}`, &pulled)
	a := NewOllama(opts("ollama", srv.URL))

	var out bytes.Buffer
	if err := a.EnsureReady(context.Background(), "llava", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !pulled {
		t.Error("missing model was not pulled")
	}
	if !strings.Contains(out.String(), "downloading 50%") {
		t.Errorf("output = %q", out.String())
	}
}

func TestOllama_EnsureReady_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := NewOllama(opts("ollama", url))
	err := a.EnsureReady(context.Background(), "llava", &bytes.Buffer{})
	if !failure.Is(err, failure.Precondition) {
		t.Fatalf("err = %v, want precondition failure", err)
	}
}

func TestPrepare_NoSetup(t *testing.T) {
	a := NewGemini(Options{})
	if err := Prepare(context.Background(), a, "", &bytes.Buffer{}); err != nil {
		t.Errorf("Prepare on a remote provider = %v", err)
	}
}
