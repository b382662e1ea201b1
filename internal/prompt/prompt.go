// Package prompt builds the instruction text sent to the model alongside
// each image.
package prompt

import (
	"fmt"
	"strings"
)

const customFrame = "Analyze this image based on the following instructions:\n%s\n\n"

const metadataShape = `Respond with ONLY a single flat JSON object with exactly these keys: "title" (string), "description" (string), "keywords" (array of strings), "category" (string). Do not nest objects. Do not wrap the JSON in markdown or add any other text.`

const promptShape = `Respond with ONLY a single flat JSON object with exactly one key: "description" (string). Do not nest objects. Do not wrap the JSON in markdown or add any other text.`

const promptPreamble = `Act as an expert metadata generator specializing in stock media requirements.
Analyze this image.
IMPORTANT: If the subject is isolated, assume it's on a white or transparent background. Do NOT mention "black background", "dark background", or similar phrases.
`

// Build returns the instruction text for the given mode. It has no side effects.
func Build(opts Options, mode Mode) string {
	if mode == ModePrompt {
		if custom := strings.TrimSpace(opts.PromptCustom); opts.UseCustomPrompt && custom != "" {
			return fmt.Sprintf(customFrame, custom) + promptShape
		}
		return buildPromptMode(opts)
	}
	if custom := strings.TrimSpace(opts.CustomPrompt); custom != "" {
		return fmt.Sprintf(customFrame, custom) + metadataShape
	}
	return buildMetadataMode(opts)
}

func buildPromptMode(opts Options) string {
	words := opts.DescWords
	if words <= 0 {
		words = DefaultOptions().DescWords
	}

	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("Generate only a compelling description.\n")
	fmt.Fprintf(&sb, "Target Description Length: MUST BE EXACTLY %d words. Provide the exact word count requested.\n", words)
	if opts.Switches.Silhouette {
		sb.WriteString("Style: Silhouette. Emphasize this.\n")
	}
	if opts.Switches.WhiteBg {
		sb.WriteString("Background: Plain white. Mention 'white background', 'isolated'.\n")
	}
	if opts.Switches.TransparentBg {
		sb.WriteString("Background: Transparent. Mention 'transparent background', 'isolated'.\n")
	}
	sb.WriteString("Focus on facts and concepts, avoiding subjective words (e.g., beautiful, amazing).\n\n")
	sb.WriteString(promptShape)
	return sb.String()
}

func buildMetadataMode(opts Options) string {
	def := DefaultOptions()
	titleLen := opts.TitleLength
	if titleLen <= 0 {
		titleLen = def.TitleLength
	}
	descLen := opts.DescLength
	if descLen <= 0 {
		descLen = def.DescLength
	}
	keywords := opts.KeywordLimit()

	var sb strings.Builder
	sb.WriteString("Act as an expert metadata generator specializing in stock media requirements.\n")
	sb.WriteString("Analyze this image and:\n")
	fmt.Fprintf(&sb, "1. Write a title of around %d characters in sentence case (only the first letter capitalized).\n", titleLen)
	fmt.Fprintf(&sb, "2. Write a detailed description of around %d characters.\n", descLen)
	fmt.Fprintf(&sb, "3. Write at most %d keywords. Prefer single-word, singular keywords.\n", keywords)
	sb.WriteString("4. Select one relevant category.\n")
	if phrases := opts.Suffix.Phrases(); len(phrases) > 0 {
		fmt.Fprintf(&sb, "The subject is presented as: %s. Keep the title consistent with this.\n", strings.Join(phrases, ", "))
	}
	sb.WriteString("Focus on facts and concepts, avoiding subjective words (e.g., beautiful, amazing).\n\n")
	sb.WriteString(metadataShape)
	return sb.String()
}
