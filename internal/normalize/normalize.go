// Package normalize turns raw model output into the canonical metadata
// shape, tolerating fencing, surrounding prose and nested fields.
package normalize

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/prompt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fields is the normalized result of one generation. Prompt mode only
// fills Description.
type Fields struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
	Category    string   `json:"category,omitempty"`
}

var (
	fence      = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\n?(.*?)\\n?\\s*```")
	commaSplit = regexp.MustCompile(`,+`)

	lower = cases.Lower(language.Und)
	upper = cases.Upper(language.Und)
)

// Normalize parses raw provider text into Fields for the given mode. It
// fails with a PARSE_ERROR when no JSON object can be recovered.
func Normalize(raw string, mode prompt.Mode, opts prompt.Options) (Fields, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return Fields{}, err
	}

	if mode == prompt.ModePrompt {
		for _, key := range []string{"description", "prompt", "text"} {
			if v, ok := obj.lookup(key); ok {
				return Fields{Description: strings.TrimSpace(v.coerce())}, nil
			}
		}
		return Fields{}, nil
	}

	var f Fields
	if v, ok := obj.lookup("title"); ok {
		f.Title = strings.TrimSpace(v.coerce())
	}
	if v, ok := obj.lookup("description"); ok {
		f.Description = strings.TrimSpace(v.coerce())
	}
	if v, ok := obj.lookup("category"); ok {
		f.Category = strings.TrimSpace(v.coerce())
	}
	var kw []string
	if v, ok := obj.lookup("keywords"); ok {
		kw = keywordList(v)
	}

	phrases := opts.Suffix.Phrases()
	f.Title = formatTitle(f.Title, phrases)
	f.Keywords = cleanKeywords(kw, phrases, opts.KeywordLimit())
	return f, nil
}

// parseObject extracts the JSON payload and decodes it with lower-cased
// top-level keys.
func parseObject(raw string) (value, error) {
	text := strings.TrimSpace(raw)
	if m := fence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return value{}, failure.New(failure.Parse, "no JSON object in response")
	}
	text = text[start : end+1]

	data := bytes.TrimSpace([]byte(text))
	if !json.Valid(data) {
		return value{}, failure.New(failure.Parse, "response is not valid JSON")
	}
	obj, err := decodeObject(data)
	if err != nil {
		return value{}, failure.Wrap(failure.Parse, err, "decoding response")
	}
	for i, k := range obj.keys {
		obj.keys[i] = lower.String(k)
	}
	return obj, nil
}

func keywordList(v value) []string {
	if inner, ok := v.embedded(); ok {
		v = inner
	}
	if v.kind == kindArray {
		out := make([]string, 0, len(v.items))
		for _, item := range v.items {
			out = append(out, item.coerce())
		}
		return out
	}
	return commaSplit.Split(v.coerce(), -1)
}

func formatTitle(title string, phrases []string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		r, size := utf8.DecodeRuneInString(title)
		title = upper.String(string(r)) + lower.String(title[size:])
	}
	parts := make([]string, 0, len(phrases)+1)
	if title != "" {
		parts = append(parts, title)
	}
	parts = append(parts, phrases...)
	return strings.Join(parts, " ")
}

func cleanKeywords(raw, phrases []string, limit int) []string {
	candidates := make([]string, 0, len(raw)+len(phrases))
	candidates = append(candidates, raw...)
	candidates = append(candidates, phrases...)

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, k := range candidates {
		k = lower.String(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
