package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYNCD_DATABASE_URL", "postgres://localhost/pairsync")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.MaxStateBytes != 64*1024 {
		t.Fatalf("MaxStateBytes = %d, want 65536", cfg.MaxStateBytes)
	}
	if cfg.StoreTimeout() != 5*time.Second {
		t.Fatalf("StoreTimeout = %v, want 5s", cfg.StoreTimeout())
	}
	if cfg.PresenceTTL() != time.Minute {
		t.Fatalf("PresenceTTL = %v, want 1m", cfg.PresenceTTL())
	}
	if cfg.InviteTTL() != 72*time.Hour {
		t.Fatalf("InviteTTL = %v, want 72h", cfg.InviteTTL())
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("SYNCD_DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without a database URL")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SYNCD_DATABASE_URL", "postgres://localhost/pairsync")
	t.Setenv("SYNCD_HTTP_PORT", "9090")
	t.Setenv("SYNCD_MAX_STATE_BYTES", "1024")
	t.Setenv("SYNCD_PRESENCE_TTL_SECONDS", "30")
	t.Setenv("SYNCD_ARCHIVE_BUCKET", "pairsync-archive")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Fatalf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.MaxStateBytes != 1024 {
		t.Fatalf("MaxStateBytes = %d, want 1024", cfg.MaxStateBytes)
	}
	if cfg.PresenceTTL() != 30*time.Second {
		t.Fatalf("PresenceTTL = %v, want 30s", cfg.PresenceTTL())
	}
	if cfg.ArchiveBucket != "pairsync-archive" {
		t.Fatalf("ArchiveBucket = %q", cfg.ArchiveBucket)
	}
}

func TestLoadYAMLFileAndPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	body := "http_port: 7070\ndatabase_url: postgres://filehost/pairsync\ninvite_ttl_hours: 24\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SYNCD_CONFIG", path)
	// Environment beats the file.
	t.Setenv("SYNCD_HTTP_PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 6060 {
		t.Fatalf("HTTPPort = %d, want env override 6060", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://filehost/pairsync" {
		t.Fatalf("DatabaseURL = %q, want file value", cfg.DatabaseURL)
	}
	if cfg.InviteTTL() != 24*time.Hour {
		t.Fatalf("InviteTTL = %v, want file value 24h", cfg.InviteTTL())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port too high", "SYNCD_HTTP_PORT", "70000"},
		{"zero state bytes", "SYNCD_MAX_STATE_BYTES", "0"},
		{"negative timeout", "SYNCD_STORE_TIMEOUT_SECONDS", "-1"},
		{"zero presence ttl", "SYNCD_PRESENCE_TTL_SECONDS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SYNCD_DATABASE_URL", "postgres://localhost/pairsync")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should reject %s=%s", tt.key, tt.val)
			}
		})
	}
}
