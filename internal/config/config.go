package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/stockmeta/internal/prompt"
)

type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	Ollama     OllamaConfig
	Rate       RateConfig
	Generation GenerationConfig
	Media      MediaConfig
	Export     ExportConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type ProviderConfig struct {
	Active  string
	Model   string
	Timeout string
}

type OllamaConfig struct {
	BaseURL string
}

type RateConfig struct {
	Enabled   bool
	PerMinute int
}

type GenerationConfig struct {
	Mode            string
	Concurrency     int
	MaxRetries      int
	TitleLength     int
	DescLength      int
	KeywordsCount   int
	DescWords       int
	CustomPrompt    string
	PromptCustom    string
	UseCustomPrompt bool

	TitleTransparentBg bool
	TitleWhiteBg       bool
	TitleVector        bool
	TitleIllustration  bool

	Silhouette    bool
	WhiteBg       bool
	TransparentBg bool
}

type MediaConfig struct {
	FFmpegPath string
}

type ExportConfig struct {
	Site          string
	FileExtension string
	AutoCSV       bool
	Dir           string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	opts := prompt.DefaultOptions()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Provider: ProviderConfig{
			Active:  "gemini",
			Timeout: "60s",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Rate: RateConfig{
			Enabled:   true,
			PerMinute: 10,
		},
		Generation: GenerationConfig{
			Mode:          string(prompt.ModeMetadata),
			Concurrency:   5,
			MaxRetries:    2,
			TitleLength:   opts.TitleLength,
			DescLength:    opts.DescLength,
			KeywordsCount: opts.KeywordsCount,
			DescWords:     opts.DescWords,
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
		},
		Export: ExportConfig{
			Site:          "General",
			FileExtension: "default",
			Dir:           ".",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, .env files,
// and environment variables.
//
// On macOS the backend is UserDefaults (domain: com.stockmeta.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/stockmeta/config.json.
//
// A .env file in the working directory and one in the data directory are
// loaded into the process environment without overriding variables that
// are already set. Environment variables (STOCKMETA_*) override backend
// values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env", filepath.Join(defaultDataDir(), ".env"))
}

func loadWith(b ConfigBackend, dotenv ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	for _, p := range dotenv {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", p, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// PromptOptions returns the generation settings as prompt builder options.
func (c Config) PromptOptions() prompt.Options {
	g := c.Generation
	return prompt.Options{
		TitleLength:   g.TitleLength,
		DescLength:    g.DescLength,
		KeywordsCount: g.KeywordsCount,
		Suffix: prompt.TitleSuffix{
			TransparentBg: g.TitleTransparentBg,
			WhiteBg:       g.TitleWhiteBg,
			Vector:        g.TitleVector,
			Illustration:  g.TitleIllustration,
		},
		CustomPrompt: g.CustomPrompt,
		DescWords:    g.DescWords,
		Switches: prompt.Switches{
			Silhouette:    g.Silhouette,
			WhiteBg:       g.WhiteBg,
			TransparentBg: g.TransparentBg,
		},
		UseCustomPrompt: g.UseCustomPrompt,
		PromptCustom:    g.PromptCustom,
	}
}

// ProviderTimeout parses Provider.Timeout, falling back to 60s.
func (c Config) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
