package objectstore

import (
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.ReadTTL != 5*time.Minute {
		t.Fatalf("read ttl default = %s, want 5m", cfg.ReadTTL)
	}
	if cfg.WriteTTL != 10*time.Minute {
		t.Fatalf("write ttl default = %s, want 10m", cfg.WriteTTL)
	}
}

func TestConfigValidateRejectsScheme(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	cfg.Endpoint = "https://localhost:9000"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}
