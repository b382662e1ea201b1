package credentials

import (
	"strings"
	"testing"

	"github.com/kalambet/stockmeta/internal/storage"
)

func openStore(t *testing.T, env map[string]string, opts ...Option) (*Store, *storage.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	opts = append(opts, WithGetenv(func(k string) string { return env[k] }))
	return NewStore(db, opts...), db
}

func TestActiveOrder(t *testing.T) {
	s, _ := openStore(t, map[string]string{
		"STOCKMETA_GEMINI_API_KEYS": " env-1 , stored-b,,env-2 ",
	})
	for _, k := range []string{"stored-a", "stored-b"} {
		if _, err := s.Add("Gemini", k); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	keys, err := s.Active("gemini")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"stored-a", "stored-b", "env-1", "env-2"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("Active = %v, want %v", keys, want)
	}
}

func TestActiveReadsFresh(t *testing.T) {
	s, _ := openStore(t, nil)
	keys, err := s.Active("grok")
	if err != nil || len(keys) != 0 {
		t.Fatalf("empty pool = %v, %v", keys, err)
	}
	if _, err := s.Add("grok", "x1"); err != nil {
		t.Fatal(err)
	}
	if keys, _ := s.Active("grok"); len(keys) != 1 || keys[0] != "x1" {
		t.Errorf("after add = %v", keys)
	}
}

func TestActiveOptionalProvider(t *testing.T) {
	s, _ := openStore(t, nil, WithOptional("ollama"))
	keys, err := s.Active("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "" {
		t.Errorf("Active(ollama) = %q, want one anonymous key", keys)
	}

	if _, err := s.Add("ollama", "proxy-token"); err != nil {
		t.Fatal(err)
	}
	if keys, _ := s.Active("ollama"); len(keys) != 1 || keys[0] != "proxy-token" {
		t.Errorf("Active(ollama) with key = %q", keys)
	}
}

func TestListMasksAndRemove(t *testing.T) {
	s, _ := openStore(t, map[string]string{"STOCKMETA_GROQ_API_KEYS": "gsk_environment_key"})
	if _, err := s.Add("groq", "gsk_1234567890abcd"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List("groq")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Masked != "gsk_****abcd" || entries[0].Origin != OriginStore {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Origin != OriginEnv || entries[1].Index != 1 {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	if err := s.Remove("groq", 1); err == nil || !strings.Contains(err.Error(), "STOCKMETA_GROQ_API_KEYS") {
		t.Errorf("Remove(env key) = %v", err)
	}
	if err := s.Remove("groq", 0); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if keys, _ := s.Active("groq"); len(keys) != 1 || keys[0] != "gsk_environment_key" {
		t.Errorf("after remove = %v", keys)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                 "(none)",
		"short":            "*****",
		"AIzaSyABCDEFGH12": "AIza****GH12",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar(" Mistral "); got != "STOCKMETA_MISTRAL_API_KEYS" {
		t.Errorf("EnvVar = %s", got)
	}
}
