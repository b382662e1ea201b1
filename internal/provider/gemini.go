package provider

import (
	"context"
	"strings"

	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/prompt"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.5-flash"
)

// Gemini calls the generateContent endpoint with an inline image part and
// a response schema.
type Gemini struct {
	baseURL string
	http    poster
}

// NewGemini creates the gemini adapter.
func NewGemini(opts Options) *Gemini {
	return &Gemini{
		baseURL: opts.baseURL("gemini", geminiBaseURL),
		http:    newPoster("gemini", opts),
	}
}

func (g *Gemini) Name() string         { return "gemini" }
func (g *Gemini) DefaultModel() string { return geminiDefaultModel }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiSchema struct {
	Type       string                  `json:"type"`
	Properties map[string]geminiSchema `json:"properties,omitempty"`
	Items      *geminiSchema           `json:"items,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string       `json:"responseMimeType"`
		ResponseSchema   geminiSchema `json:"responseSchema"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func geminiSchemaFor(mode prompt.Mode) geminiSchema {
	str := geminiSchema{Type: "STRING"}
	if mode == prompt.ModePrompt {
		return geminiSchema{
			Type:       "OBJECT",
			Properties: map[string]geminiSchema{"description": str},
			Required:   []string{"description"},
		}
	}
	return geminiSchema{
		Type: "OBJECT",
		Properties: map[string]geminiSchema{
			"title":       str,
			"description": str,
			"keywords":    {Type: "ARRAY", Items: &str},
			"category":    str,
		},
		Required: []string{"title", "description", "keywords", "category"},
	}
}

// Call implements Adapter.
func (g *Gemini) Call(ctx context.Context, req Request) (string, error) {
	var body geminiRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{
		{Text: req.Prompt},
		{InlineData: &geminiInlineData{MimeType: req.Payload.MimeType, Data: req.Payload.Data}},
	}}}
	body.GenerationConfig.ResponseMimeType = "application/json"
	body.GenerationConfig.ResponseSchema = geminiSchemaFor(req.Mode)

	model := ModelFor(g, req.Model)
	url := g.baseURL + "/models/" + model + ":generateContent"

	var resp geminiResponse
	if err := g.http.post(ctx, url, map[string]string{"x-goog-api-key": req.Key}, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return "", g.fail("blocked by safety settings (%s)", resp.PromptFeedback.BlockReason)
		}
		return "", g.fail("invalid response structure: no candidates")
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		if cand.FinishReason == "SAFETY" {
			return "", g.fail("blocked by safety settings")
		}
		return "", g.fail("empty response (finish reason %s)", cand.FinishReason)
	}
	return text, nil
}

func (g *Gemini) fail(format string, args ...any) *failure.Error {
	e := failure.New(failure.Other, format, args...)
	e.Provider = g.Name()
	return e
}
