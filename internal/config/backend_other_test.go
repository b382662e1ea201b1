//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockmeta", "config.json")
	b := &fileBackend{path: path, data: map[string]any{}}

	if err := b.SetString("provider.active", "grok"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetInt("rate.per_minute", 12); err != nil {
		t.Fatal(err)
	}
	if err := b.SetBool("export.auto_csv", true); err != nil {
		t.Fatal(err)
	}

	reloaded := &fileBackend{path: path, data: map[string]any{}}
	if err := reloaded.load(); err != nil {
		t.Fatal(err)
	}

	if v, ok, _ := reloaded.GetString("provider.active"); !ok || v != "grok" {
		t.Errorf("provider.active = %q, %v", v, ok)
	}
	if v, ok, err := reloaded.GetInt("rate.per_minute"); err != nil || !ok || v != 12 {
		t.Errorf("rate.per_minute = %d, %v, %v", v, ok, err)
	}
	if v, ok, err := reloaded.GetBool("export.auto_csv"); err != nil || !ok || !v {
		t.Errorf("export.auto_csv = %v, %v, %v", v, ok, err)
	}
	if err := reloaded.Delete("provider.active"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reloaded.GetString("provider.active"); ok {
		t.Error("key still present after delete")
	}
}

func TestFileBackendBoolStrings(t *testing.T) {
	b := &fileBackend{data: map[string]any{
		"rate.enabled":        "0",
		"export.auto_csv":     "sometimes",
		"generation.white_bg": 1.0,
	}}
	if v, ok, err := b.GetBool("rate.enabled"); err != nil || !ok || v {
		t.Errorf("rate.enabled = %v, %v, %v", v, ok, err)
	}
	if _, _, err := b.GetBool("export.auto_csv"); err == nil {
		t.Error("expected error for unparsable string")
	}
	if _, _, err := b.GetBool("generation.white_bg"); err == nil {
		t.Error("expected error for numeric value")
	}
	if _, ok, err := b.GetBool("missing"); ok || err != nil {
		t.Errorf("missing key: ok=%v err=%v", ok, err)
	}
}

func TestFileBackendLoadErrors(t *testing.T) {
	dir := t.TempDir()
	missing := &fileBackend{path: filepath.Join(dir, "none.json"), data: map[string]any{}}
	if err := missing.load(); err != nil {
		t.Errorf("missing file: %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	b := &fileBackend{path: bad, data: map[string]any{}}
	if err := b.load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestFileKeychain(t *testing.T) {
	kc := fileKeychain{path: filepath.Join(t.TempDir(), "secrets.json")}
	if _, err := kc.Get("stockmeta", "api_token"); err == nil {
		t.Error("expected error before the file exists")
	}
	if err := kc.Set("stockmeta", "api_token", "abc"); err != nil {
		t.Fatal(err)
	}
	if v, err := kc.Get("stockmeta", "api_token"); err != nil || v != "abc" {
		t.Errorf("Get = %q, %v", v, err)
	}
}
