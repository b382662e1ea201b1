package main

import (
	"fmt"
	"path/filepath"

	"github.com/kalambet/stockmeta/internal/config"
	"github.com/kalambet/stockmeta/internal/credentials"
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/provider"
	"github.com/kalambet/stockmeta/internal/storage"
)

// env is the local wiring shared by commands that work on the data
// directory directly.
type env struct {
	cfg      config.Config
	store    *storage.Store
	keys     *credentials.Store
	registry *provider.Registry
	svc      *pipeline.Service
}

func (e *env) Close() error {
	return e.store.Close()
}

// settings returns the run settings of the loaded config.
func (e *env) settings() (pipeline.Settings, error) {
	return pipeline.SettingsFromConfig(e.cfg)
}

var openEnv = func() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return wireEnv(cfg, store, provider.DefaultRegistry(providerOptions(cfg)), media.NewProcessor(cfg.Media.FFmpegPath)), nil
}

func wireEnv(cfg config.Config, store *storage.Store, registry *provider.Registry, proc pipeline.MediaProcessor) *env {
	keys := credentials.NewStore(store, credentials.WithOptional(optionalProviders(registry)...))
	svc := pipeline.New(store, registry, keys, proc)
	svc.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	return &env{cfg: cfg, store: store, keys: keys, registry: registry, svc: svc}
}

func providerOptions(cfg config.Config) provider.Options {
	return provider.Options{
		Timeout:  cfg.ProviderTimeout(),
		BaseURLs: map[string]string{"ollama": cfg.Ollama.BaseURL},
	}
}

// optionalProviders lists the registered providers that run without a key.
func optionalProviders(registry *provider.Registry) []string {
	var out []string
	for _, name := range registry.Names() {
		if a, err := registry.Get(name); err == nil && provider.KeysOptional(a) {
			out = append(out, name)
		}
	}
	return out
}

// withEnv opens the local environment for the duration of fn.
func withEnv(fn func(e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	return fn(e)
}
