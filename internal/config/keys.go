package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "STOCKMETA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "provider.active", typ: kString, env: "STOCKMETA_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Provider.Active = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Active },
	},
	{
		key: "provider.model", typ: kString, env: "STOCKMETA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Model },
	},
	{
		key: "provider.timeout", typ: kString, env: "STOCKMETA_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "STOCKMETA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "rate.enabled", typ: kBool, env: "STOCKMETA_RATE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Rate.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Rate.Enabled },
	},
	{
		key: "rate.per_minute", typ: kInt, env: "STOCKMETA_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Rate.PerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Rate.PerMinute },
	},
	{
		key: "generation.mode", typ: kString, env: "STOCKMETA_MODE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Mode },
	},
	{
		key: "generation.concurrency", typ: kInt, env: "STOCKMETA_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Generation.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.Concurrency },
	},
	{
		key: "generation.max_retries", typ: kInt, env: "STOCKMETA_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxRetries },
	},
	{
		key: "generation.title_length", typ: kInt, env: "STOCKMETA_TITLE_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Generation.TitleLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.TitleLength },
	},
	{
		key: "generation.desc_length", typ: kInt, env: "STOCKMETA_DESC_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Generation.DescLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.DescLength },
	},
	{
		key: "generation.keywords_count", typ: kInt, env: "STOCKMETA_KEYWORDS_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Generation.KeywordsCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.KeywordsCount },
	},
	{
		key: "generation.desc_words", typ: kInt, env: "STOCKMETA_DESC_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Generation.DescWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.DescWords },
	},
	{
		key: "generation.custom_prompt", typ: kString, env: "STOCKMETA_CUSTOM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Generation.CustomPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.CustomPrompt },
	},
	{
		key: "generation.prompt_custom", typ: kString, env: "STOCKMETA_PROMPT_CUSTOM",
		apply:   func(cfg *Config, v any) { cfg.Generation.PromptCustom = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.PromptCustom },
	},
	{
		key: "generation.use_custom_prompt", typ: kBool, env: "STOCKMETA_USE_CUSTOM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Generation.UseCustomPrompt = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.UseCustomPrompt },
	},
	{
		key: "generation.title_transparent_bg", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.TitleTransparentBg = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.TitleTransparentBg },
	},
	{
		key: "generation.title_white_bg", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.TitleWhiteBg = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.TitleWhiteBg },
	},
	{
		key: "generation.title_vector", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.TitleVector = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.TitleVector },
	},
	{
		key: "generation.title_illustration", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.TitleIllustration = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.TitleIllustration },
	},
	{
		key: "generation.silhouette", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.Silhouette = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.Silhouette },
	},
	{
		key: "generation.white_bg", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.WhiteBg = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.WhiteBg },
	},
	{
		key: "generation.transparent_bg", typ: kBool,
		apply:   func(cfg *Config, v any) { cfg.Generation.TransparentBg = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.TransparentBg },
	},
	{
		key: "media.ffmpeg_path", typ: kString, env: "STOCKMETA_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Media.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.FFmpegPath },
	},
	{
		key: "export.site", typ: kString, env: "STOCKMETA_EXPORT_SITE",
		apply:   func(cfg *Config, v any) { cfg.Export.Site = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Site },
	},
	{
		key: "export.file_extension", typ: kString, env: "STOCKMETA_EXPORT_FILE_EXTENSION",
		apply:   func(cfg *Config, v any) { cfg.Export.FileExtension = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.FileExtension },
	},
	{
		key: "export.auto_csv", typ: kBool, env: "STOCKMETA_EXPORT_AUTO_CSV",
		apply:   func(cfg *Config, v any) { cfg.Export.AutoCSV = v.(bool) },
		extract: func(cfg Config) any { return cfg.Export.AutoCSV },
	},
	{
		key: "export.dir", typ: kString, env: "STOCKMETA_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Export.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Dir },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STOCKMETA_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "STOCKMETA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetBool(s.key)
			var invalid *errInvalid
			if errors.As(err, &invalid) {
				fmt.Fprintf(os.Stderr, "[WARN] %v: %v. Using default value.\n", err, invalid.val)
				continue
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
