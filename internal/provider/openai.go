package provider

import (
	"context"
	"strings"

	"github.com/kalambet/stockmeta/internal/failure"
)

const (
	grokBaseURL    = "https://api.x.ai/v1"
	mistralBaseURL = "https://api.mistral.ai/v1"
	groqBaseURL    = "https://api.groq.com/openai/v1"

	grokDefaultModel   = "grok-2-vision-1212"
	mistralVisionModel = "pixtral-12b-2409"
	groqDefaultModel   = "meta-llama/llama-4-maverick-17b-128e-instruct"

	grokSystemPrompt  = "You are a helpful AI assistant that generates metadata for images in JSON format."
	mistralUserPrompt = "Analyze this image and provide the requested metadata in JSON format."
)

// OpenAICompatible talks to a /chat/completions endpoint that accepts
// image_url content parts carrying a data: URI.
type OpenAICompatible struct {
	name         string
	baseURL      string
	defaultModel string
	http         poster

	// instructionsAsSystem sends the prompt as the system message and a
	// short fixed request as the user text.
	instructionsAsSystem bool
	systemPrompt         string
	imageDetail          string
	temperature          *float64
	maxTokens            int
	topP                 *float64
	pinModel             func(string) string
}

func ptr(f float64) *float64 { return &f }

// NewGrok creates the xAI adapter.
func NewGrok(opts Options) *OpenAICompatible {
	return &OpenAICompatible{
		name:         "grok",
		baseURL:      opts.baseURL("grok", grokBaseURL),
		defaultModel: grokDefaultModel,
		http:         newPoster("grok", opts),
		systemPrompt: grokSystemPrompt,
		imageDetail:  "high",
		temperature:  ptr(0),
	}
}

// NewMistral creates the Mistral adapter. Only pixtral models accept
// images there, so any other model is replaced with pixtral-12b-2409.
func NewMistral(opts Options) *OpenAICompatible {
	return &OpenAICompatible{
		name:                 "mistral",
		baseURL:              opts.baseURL("mistral", mistralBaseURL),
		defaultModel:         mistralVisionModel,
		http:                 newPoster("mistral", opts),
		instructionsAsSystem: true,
		temperature:          ptr(0.7),
		maxTokens:            2048,
		topP:                 ptr(1),
		pinModel: func(model string) string {
			if strings.Contains(strings.ToLower(model), "pixtral") {
				return model
			}
			return mistralVisionModel
		},
	}
}

// NewGroq creates the Groq Cloud adapter.
func NewGroq(opts Options) *OpenAICompatible {
	return &OpenAICompatible{
		name:         "groq",
		baseURL:      opts.baseURL("groq", groqBaseURL),
		defaultModel: groqDefaultModel,
		http:         newPoster("groq", opts),
		temperature:  ptr(0),
	}
}

func (c *OpenAICompatible) Name() string         { return c.name }
func (c *OpenAICompatible) DefaultModel() string { return c.defaultModel }

type chatContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompatible) model(requested string) string {
	model := ModelFor(c, requested)
	if c.pinModel != nil {
		model = c.pinModel(model)
	}
	return model
}

// Call implements Adapter.
func (c *OpenAICompatible) Call(ctx context.Context, req Request) (string, error) {
	userText := req.Prompt
	var messages []chatMessage
	switch {
	case c.instructionsAsSystem:
		messages = append(messages, chatMessage{Role: "system", Content: req.Prompt})
		userText = mistralUserPrompt
	case c.systemPrompt != "":
		messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, chatMessage{
		Role: "user",
		Content: []chatContentPart{
			{Type: "text", Text: userText},
			{Type: "image_url", ImageURL: &imageURL{URL: req.Payload.DataURL(), Detail: c.imageDetail}},
		},
	})

	body := chatRequest{
		Model:       c.model(req.Model),
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		TopP:        c.topP,
	}
	headers := map[string]string{"Authorization": "Bearer " + req.Key}

	var resp chatResponse
	if err := c.http.post(ctx, c.baseURL+"/chat/completions", headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		e := failure.New(failure.Other, "invalid response structure: no choices")
		e.Provider = c.name
		return "", e
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		e := failure.New(failure.Other, "empty response")
		e.Provider = c.name
		return "", e
	}
	return text, nil
}
