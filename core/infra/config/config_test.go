package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{envNATSURL, envRedisURL, envHTTPAddr, envWorkerCount, envStageTimeout} {
		os.Unsetenv(key)
	}
	cfg := Load()
	if cfg.NatsURL != defaultNATSURL {
		t.Fatalf("NatsURL = %q, want %q", cfg.NatsURL, defaultNATSURL)
	}
	if cfg.WorkerCount != defaultWorkerCount {
		t.Fatalf("WorkerCount = %d, want %d", cfg.WorkerCount, defaultWorkerCount)
	}
	if cfg.StageTimeout != 5*time.Minute {
		t.Fatalf("StageTimeout = %v, want 5m", cfg.StageTimeout)
	}
	if cfg.StreamTokenTTL != 24*time.Hour {
		t.Fatalf("StreamTokenTTL = %v, want 24h", cfg.StreamTokenTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envNATSURL, "nats://queue:4222")
	t.Setenv(envWorkerCount, "8")
	t.Setenv(envStageTimeout, "90s")
	cfg := Load()
	if cfg.NatsURL != "nats://queue:4222" {
		t.Fatalf("NatsURL = %q", cfg.NatsURL)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
	if cfg.StageTimeout != 90*time.Second {
		t.Fatalf("StageTimeout = %v, want 90s", cfg.StageTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(envWorkerCount, "zero")
	t.Setenv(envStageTimeout, "-5m")
	cfg := Load()
	if cfg.WorkerCount != defaultWorkerCount {
		t.Fatalf("WorkerCount = %d, want default %d", cfg.WorkerCount, defaultWorkerCount)
	}
	if cfg.StageTimeout != defaultStageTimeout {
		t.Fatalf("StageTimeout = %v, want default %v", cfg.StageTimeout, defaultStageTimeout)
	}
}

func TestLoadMarketsMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadMarkets(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if cfg.Theme.PrimaryColor != "#C8A96E" {
		t.Fatalf("PrimaryColor = %q", cfg.Theme.PrimaryColor)
	}
	if !cfg.WhatsAppEnabled("ar-SA") {
		t.Fatal("ar-SA should be WhatsApp-enabled by default")
	}
}

func TestParseMarketsConfigOverrides(t *testing.T) {
	data := []byte(`
brand:
  name: Acme
theme:
  primary_color: "#112233"
whatsapp_locales:
  - en-US
`)
	cfg, err := ParseMarketsConfig(data)
	if err != nil {
		t.Fatalf("ParseMarketsConfig: %v", err)
	}
	if cfg.Brand.Name != "Acme" {
		t.Fatalf("Brand.Name = %q", cfg.Brand.Name)
	}
	if cfg.Brand.SiteURL != "https://etm.sa" {
		t.Fatalf("Brand.SiteURL should keep default, got %q", cfg.Brand.SiteURL)
	}
	if cfg.Theme.PrimaryColor != "#112233" {
		t.Fatalf("PrimaryColor = %q", cfg.Theme.PrimaryColor)
	}
	if cfg.WhatsAppEnabled("ar-SA") {
		t.Fatal("ar-SA should not match after override")
	}
	if !cfg.WhatsAppEnabled("en-US") {
		t.Fatal("en-US should match after override")
	}
}

func TestWhatsAppEnabledSubstring(t *testing.T) {
	cfg := DefaultMarkets()
	if !cfg.WhatsAppEnabled("ar-SA-u-nu-arab") {
		t.Fatal("locale variant containing ar-SA should match")
	}
	if cfg.WhatsAppEnabled("en-US") {
		t.Fatal("en-US should not match")
	}
}
