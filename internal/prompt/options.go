package prompt

import "fmt"

// Mode selects what the model is asked to produce.
type Mode string

const (
	// ModeMetadata produces title, description, keywords, and category.
	ModeMetadata Mode = "metadata"
	// ModePrompt produces a single free-form description.
	ModePrompt Mode = "prompt"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMetadata, ModePrompt:
		return Mode(s), nil
	case "":
		return ModeMetadata, nil
	}
	return "", fmt.Errorf("unknown mode %q (want metadata or prompt)", s)
}

// TitleSuffix toggles phrases appended to generated titles and keywords.
type TitleSuffix struct {
	TransparentBg bool `json:"transparent_bg" yaml:"transparent_bg"`
	WhiteBg       bool `json:"white_bg" yaml:"white_bg"`
	Vector        bool `json:"vector" yaml:"vector"`
	Illustration  bool `json:"illustration" yaml:"illustration"`
}

// Phrases returns the enabled suffix phrases in their fixed order.
func (s TitleSuffix) Phrases() []string {
	var out []string
	if s.TransparentBg {
		out = append(out, "isolated on transparent background")
	}
	if s.WhiteBg {
		out = append(out, "isolated on white background")
	}
	if s.Vector {
		out = append(out, "Vector")
	}
	if s.Illustration {
		out = append(out, "illustration")
	}
	return out
}

// Switches are the prompt-mode framing toggles.
type Switches struct {
	Silhouette    bool `json:"silhouette" yaml:"silhouette"`
	WhiteBg       bool `json:"white_bg" yaml:"white_bg"`
	TransparentBg bool `json:"transparent_bg" yaml:"transparent_bg"`
}

// Options are the user-configured generation controls.
type Options struct {
	// Metadata mode.
	TitleLength   int         `json:"title_length" yaml:"title_length"`
	DescLength    int         `json:"desc_length" yaml:"desc_length"`
	KeywordsCount int         `json:"keywords_count" yaml:"keywords_count"`
	Suffix        TitleSuffix `json:"suffix" yaml:"suffix"`
	CustomPrompt  string      `json:"custom_prompt,omitempty" yaml:"custom_prompt,omitempty"`

	// Prompt mode.
	DescWords       int      `json:"desc_words" yaml:"desc_words"`
	Switches        Switches `json:"switches" yaml:"switches"`
	UseCustomPrompt bool     `json:"use_custom_prompt" yaml:"use_custom_prompt"`
	PromptCustom    string   `json:"prompt_custom,omitempty" yaml:"prompt_custom,omitempty"`
}

// KeywordLimit is the keyword cap shared by prompts and normalization.
// Values below 1 fall back to the default of 30.
func (o Options) KeywordLimit() int {
	if o.KeywordsCount > 0 {
		return o.KeywordsCount
	}
	return DefaultOptions().KeywordsCount
}

// DefaultOptions mirrors the stock settings of a fresh install.
func DefaultOptions() Options {
	return Options{
		TitleLength:   60,
		DescLength:    150,
		KeywordsCount: 30,
		DescWords:     40,
	}
}
