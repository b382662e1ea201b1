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

	"github.com/buger/jsonparser"
	"github.com/kalambet/stockmeta/internal/failure"
)

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

type poster struct {
	provider   string
	httpClient *http.Client
	timeout    time.Duration
}

func newPoster(provider string, opts Options) poster {
	return poster{provider: provider, httpClient: opts.client(), timeout: opts.timeout()}
}

// post sends body as JSON and decodes a 200 response into out. Any other
// outcome is returned as a classified *failure.Error.
func (p poster) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return failure.Wrap(failure.Other, err, "marshaling request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return failure.Wrap(failure.Other, err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		e := failure.Wrap(failure.Other, err, "executing request")
		e.Provider = p.provider
		return e
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e := failure.Wrap(failure.Other, err, "reading response")
		e.Provider = p.provider
		return e
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(p.provider, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		e := failure.Wrap(failure.Other, err, "decoding response")
		e.Provider = p.provider
		return e
	}
	return nil
}

// classify maps an upstream failure onto the shared taxonomy.
func classify(provider string, status int, body []byte) *failure.Error {
	msg, upstreamStatus := errorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("%s API error: %d %s", provider, status, http.StatusText(status))
	}

	kind := failure.Other
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = failure.Auth
	case status == http.StatusTooManyRequests,
		upstreamStatus == "RESOURCE_EXHAUSTED",
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "rate limit"):
		kind = failure.RateLimit
	}
	return &failure.Error{Kind: kind, Provider: provider, Status: status, Message: msg}
}

// errorMessage pulls a human-readable message out of the error bodies the
// supported APIs return.
func errorMessage(body []byte) (msg, status string) {
	status, _ = jsonparser.GetString(body, "error", "status")
	for _, path := range [][]string{
		{"error", "message"},
		{"message"},
		{"error"},
		{"detail"},
	} {
		if s, err := jsonparser.GetString(body, path...); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), status
		}
	}
	s := strings.TrimSpace(string(body))
	if s == "" || strings.HasPrefix(s, "{") {
		return "", status
	}
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s, status
}
