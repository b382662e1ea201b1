package prompt

import (
	"strings"
	"testing"
)

func TestBuild_MetadataDefault(t *testing.T) {
	opts := DefaultOptions()
	opts.KeywordsCount = 25

	got := Build(opts, ModeMetadata)

	if !strings.Contains(got, "at most 25 keywords") {
		t.Error("prompt does not carry the keyword count")
	}
	if !strings.Contains(got, "around 60 characters") {
		t.Error("prompt does not carry the title length guidance")
	}
	if !strings.HasSuffix(got, metadataShape) {
		t.Error("metadata prompt must end with the output shape declaration")
	}
}

func TestBuild_MetadataSuffixGuidance(t *testing.T) {
	opts := DefaultOptions()
	opts.Suffix = TitleSuffix{WhiteBg: true, Vector: true}

	got := Build(opts, ModeMetadata)
	if !strings.Contains(got, "isolated on white background, Vector") {
		t.Errorf("prompt missing suffix guidance:\n%s", got)
	}
}

func TestBuild_PromptModeSwitches(t *testing.T) {
	opts := DefaultOptions()
	opts.DescWords = 55
	opts.Switches = Switches{Silhouette: true, TransparentBg: true}

	got := Build(opts, ModePrompt)

	if !strings.Contains(got, "EXACTLY 55 words") {
		t.Error("prompt mode does not carry the word count")
	}
	if !strings.Contains(got, "Silhouette") {
		t.Error("silhouette directive missing")
	}
	if !strings.Contains(got, "Transparent") {
		t.Error("transparent background directive missing")
	}
	if strings.Contains(got, "Plain white") {
		t.Error("white background directive present but not enabled")
	}
	if !strings.HasSuffix(got, promptShape) {
		t.Error("prompt mode must end with the output shape declaration")
	}
}

func TestBuild_CustomInstructionBypassesOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		mode  Mode
		want  string
		shape string
	}{
		{
			name:  "metadata",
			opts:  Options{CustomPrompt: "  Describe the food only.  ", KeywordsCount: 10},
			mode:  ModeMetadata,
			want:  "Analyze this image based on the following instructions:\nDescribe the food only.\n\n",
			shape: metadataShape,
		},
		{
			name:  "prompt",
			opts:  Options{UseCustomPrompt: true, PromptCustom: "One sentence.", DescWords: 99},
			mode:  ModePrompt,
			want:  "Analyze this image based on the following instructions:\nOne sentence.\n\n",
			shape: promptShape,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.opts, tt.mode)
			if got != tt.want+tt.shape {
				t.Errorf("Build() = %q, want %q", got, tt.want+tt.shape)
			}
		})
	}
}

func TestBuild_PromptCustomIgnoredWhenDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.PromptCustom = "ignored"

	got := Build(opts, ModePrompt)
	if strings.Contains(got, "ignored") {
		t.Error("custom prompt-mode instruction used without UseCustomPrompt")
	}
}

func TestTitleSuffix_PhrasesOrder(t *testing.T) {
	s := TitleSuffix{TransparentBg: true, WhiteBg: true, Vector: true, Illustration: true}
	want := []string{
		"isolated on transparent background",
		"isolated on white background",
		"Vector",
		"illustration",
	}
	got := s.Phrases()
	if len(got) != len(want) {
		t.Fatalf("got %d phrases, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("phrase[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeMetadata {
		t.Errorf("ParseMode(\"\") = %q, %v; want metadata", m, err)
	}
	if _, err := ParseMode("video"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestKeywordLimit(t *testing.T) {
	for count, want := range map[int]int{0: 30, -1: 30, 1: 1, 45: 45} {
		if got := (Options{KeywordsCount: count}).KeywordLimit(); got != want {
			t.Errorf("KeywordLimit(%d) = %d, want %d", count, got, want)
		}
	}
}
