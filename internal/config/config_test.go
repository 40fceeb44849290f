package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("expected default SMTP port 587, got %d", cfg.SMTPPort)
	}
	if cfg.OTPMasterEnabled {
		t.Error("master code must be disabled by default")
	}
	if cfg.OTPMasterCode != "0000" {
		t.Errorf("expected default master code 0000, got %q", cfg.OTPMasterCode)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte("listen_addr: \":9001\"\nsmtp_host: mail.example.com\nidle_timeout: 5m\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ListenAddr != ":9001" {
		t.Errorf("expected listen addr from file, got %q", cfg.ListenAddr)
	}
	if cfg.SMTPHost != "mail.example.com" {
		t.Errorf("expected smtp host from file, got %q", cfg.SMTPHost)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("expected 5m idle timeout, got %v", cfg.IdleTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.SMTPPort != 587 {
		t.Errorf("expected default SMTP port, got %d", cfg.SMTPPort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9001\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("OTP_MASTER_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("environment should win over file, got %q", cfg.ListenAddr)
	}
	if !cfg.OTPMasterEnabled {
		t.Error("expected master code enabled from environment")
	}
}

func TestLoadRejectsBadFromAddress(t *testing.T) {
	t.Setenv("SMTP_FROM", "not-an-email")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for malformed SMTP_FROM")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
