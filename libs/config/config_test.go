package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvValues(t *testing.T) {
	t.Setenv("DENTBOOK_TEST_PORT", "8085")
	t.Setenv("DENTBOOK_TEST_SLOTS", "15")
	t.Setenv("DENTBOOK_TEST_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if port, err := cfg.Port("DENTBOOK_TEST_PORT", "8083"); err != nil || port != "8085" {
		t.Fatalf("Port = %q, %v", port, err)
	}
	if n, err := cfg.PositiveInt("DENTBOOK_TEST_SLOTS", 30); err != nil || n != 15 {
		t.Fatalf("PositiveInt = %d, %v", n, err)
	}
	if n, err := cfg.Int("DENTBOOK_TEST_MISSING", 30); err != nil || n != 30 {
		t.Fatalf("Int fallback = %d, %v", n, err)
	}
	if got := cfg.List("DENTBOOK_TEST_ORIGINS"); len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("List = %v", got)
	}
	if d, err := cfg.Seconds("DENTBOOK_TEST_MISSING", 15*time.Second); err != nil || d != 15*time.Second {
		t.Fatalf("Seconds = %s, %v", d, err)
	}
	if _, err := cfg.RequiredString("DENTBOOK_TEST_MISSING"); err == nil {
		t.Fatal("expected error for missing required key")
	}
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("DENTBOOK_TEST_PORT", "99999")
	t.Setenv("DENTBOOK_TEST_SLOTS", "0")
	t.Setenv("DENTBOOK_TEST_NUM", "ten")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Port("DENTBOOK_TEST_PORT", "8083"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	if _, err := cfg.PositiveInt("DENTBOOK_TEST_SLOTS", 30); err == nil {
		t.Fatal("expected error for zero")
	}
	if _, err := cfg.Int("DENTBOOK_TEST_NUM", 1); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}

func TestFileSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booking.yaml")
	body := `
slot_interval_minutes: 20
management_systems:
  acme:
    kind: http
    base_url: https://pms.example
    timeout: 5s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n, _ := cfg.Int("slot_interval_minutes", 30); n != 20 {
		t.Fatalf("expected file value 20, got %d", n)
	}

	var systems map[string]struct {
		Kind    string        `mapstructure:"kind"`
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	}
	if err := cfg.UnmarshalKey("management_systems", &systems); err != nil {
		t.Fatalf("UnmarshalKey: %v", err)
	}
	acme, ok := systems["acme"]
	if !ok || acme.Kind != "http" || acme.BaseURL != "https://pms.example" || acme.Timeout != 5*time.Second {
		t.Fatalf("unexpected section %+v", systems)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
