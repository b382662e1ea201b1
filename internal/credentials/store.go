// Package credentials resolves the ordered API key pool of each provider
// from the database and from STOCKMETA_<PROVIDER>_API_KEYS.
package credentials

import (
	"fmt"
	"os"
	"strings"

	"github.com/kalambet/stockmeta/internal/storage"
)

// Backend is the persistent part of the pool. *storage.Store implements it.
type Backend interface {
	AddCredential(provider, key string) (int, error)
	ListCredentials(provider string) ([]storage.Credential, error)
	RemoveCredential(provider string, index int) error
}

// Origin tells where a key in the pool came from.
type Origin string

const (
	OriginStore Origin = "store"
	OriginEnv   Origin = "env"
)

// Entry is one pool key as shown to users.
type Entry struct {
	Index  int    `json:"index"`
	Masked string `json:"masked"`
	Origin Origin `json:"origin"`
}

// Store implements governor.Source.
type Store struct {
	db       Backend
	getenv   func(string) string
	optional map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithOptional marks providers that run without a key. Their empty pool
// resolves to one anonymous credential.
func WithOptional(providers ...string) Option {
	return func(s *Store) {
		for _, p := range providers {
			s.optional[normalize(p)] = true
		}
	}
}

// WithGetenv replaces os.Getenv.
func WithGetenv(fn func(string) string) Option {
	return func(s *Store) { s.getenv = fn }
}

func NewStore(db Backend, opts ...Option) *Store {
	s := &Store{db: db, getenv: os.Getenv, optional: make(map[string]bool)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnvVar is the variable holding comma-separated extra keys for provider.
func EnvVar(provider string) string {
	return "STOCKMETA_" + strings.ToUpper(normalize(provider)) + "_API_KEYS"
}

// Active returns provider's keys in rotation order: stored keys first,
// then environment keys not already stored.
func (s *Store) Active(provider string) ([]string, error) {
	entries, err := s.resolve(provider)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.key)
	}
	if len(keys) == 0 && s.optional[normalize(provider)] {
		return []string{""}, nil
	}
	return keys, nil
}

// List returns the pool with keys masked.
func (s *Store) List(provider string) ([]Entry, error) {
	entries, err := s.resolve(provider)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		out = append(out, Entry{Index: i, Masked: Mask(e.key), Origin: e.origin})
	}
	return out, nil
}

// Add stores key at the end of provider's pool and returns its index.
func (s *Store) Add(provider, key string) (int, error) {
	provider = normalize(provider)
	if provider == "" {
		return 0, fmt.Errorf("provider is required")
	}
	return s.db.AddCredential(provider, key)
}

// Remove deletes the stored key at index. Environment keys cannot be
// removed here.
func (s *Store) Remove(provider string, index int) error {
	provider = normalize(provider)
	stored, err := s.db.ListCredentials(provider)
	if err != nil {
		return err
	}
	if index >= len(stored) {
		entries, err := s.resolve(provider)
		if err == nil && index < len(entries) {
			return fmt.Errorf("key %d of %s comes from %s; unset it there", index, provider, EnvVar(provider))
		}
	}
	return s.db.RemoveCredential(provider, index)
}

type resolved struct {
	key    string
	origin Origin
}

func (s *Store) resolve(provider string) ([]resolved, error) {
	provider = normalize(provider)
	stored, err := s.db.ListCredentials(provider)
	if err != nil {
		return nil, fmt.Errorf("reading %s credentials: %w", provider, err)
	}
	seen := make(map[string]bool, len(stored))
	var out []resolved
	for _, c := range stored {
		if c.Key == "" || seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		out = append(out, resolved{key: c.Key, origin: OriginStore})
	}
	for _, k := range strings.Split(s.getenv(EnvVar(provider)), ",") {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, resolved{key: k, origin: OriginEnv})
	}
	return out, nil
}

// Mask hides all but the first and last four characters of key.
func Mask(key string) string {
	if key == "" {
		return "(none)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", 4) + key[len(key)-4:]
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
