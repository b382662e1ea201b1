package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/kalambet/stockmeta/internal/config"
	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/governor"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/prompt"
)

// Settings is the snapshot of choices a run is started with. It is stored
// with the run's history entry.
type Settings struct {
	Provider    string          `json:"provider"`
	Model       string          `json:"model,omitempty"`
	Mode        prompt.Mode     `json:"mode"`
	Options     prompt.Options  `json:"options"`
	Rate        governor.Config `json:"rate"`
	Concurrency int             `json:"concurrency"`
	MaxRetries  int             `json:"max_retries"`
	Export      ExportSettings  `json:"export"`
}

// ExportSettings controls the CSV written automatically after a run.
type ExportSettings struct {
	Site          export.Site `json:"site"`
	FileExtension string      `json:"file_extension"`
	AutoCSV       bool        `json:"auto_csv"`
	Dir           string      `json:"dir"`
}

// SettingsFromConfig validates cfg and converts it into run settings.
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	mode, err := prompt.ParseMode(cfg.Generation.Mode)
	if err != nil {
		return Settings{}, err
	}
	site, err := export.ParseSite(cfg.Export.Site)
	if err != nil {
		return Settings{}, err
	}
	if cfg.Rate.PerMinute < 1 && cfg.Rate.Enabled {
		return Settings{}, fmt.Errorf("rate.per_minute must be at least 1, got %d", cfg.Rate.PerMinute)
	}
	return Settings{
		Provider:    cfg.Provider.Active,
		Model:       cfg.Provider.Model,
		Mode:        mode,
		Options:     cfg.PromptOptions(),
		Rate:        governor.Config{Enabled: cfg.Rate.Enabled, PerMinute: cfg.Rate.PerMinute},
		Concurrency: cfg.Generation.Concurrency,
		MaxRetries:  cfg.Generation.MaxRetries,
		Export: ExportSettings{
			Site:          site,
			FileExtension: cfg.Export.FileExtension,
			AutoCSV:       cfg.Export.AutoCSV,
			Dir:           cfg.Export.Dir,
		},
	}, nil
}

func (s Settings) orchestratorConfig() orchestrator.Config {
	c := orchestrator.DefaultConfig()
	c.Model = s.Model
	c.Mode = s.Mode
	c.Options = s.Options
	if s.Concurrency > 0 {
		c.Concurrency = s.Concurrency
	}
	c.MaxRetries = s.MaxRetries
	return c
}

func (s Settings) exportOptions() export.Options {
	return export.Options{Site: s.Export.Site, FileExtension: s.Export.FileExtension}
}

func (s Settings) csvPath() string {
	dir := s.Export.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, export.Filename(s.Export.Site, s.Mode))
}
