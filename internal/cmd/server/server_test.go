package server

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.DBPath != "storyweave.db" {
		t.Fatalf("expected default db path, got %s", cfg.DBPath)
	}
	if cfg.ReadHeaderTimeout != 5*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected default timeouts, got %+v", cfg)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("STORYWEAVE_HTTP_ADDR", ":9000")
	t.Setenv("STORYWEAVE_JWT_SECRET", "env-secret")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db-path", "/tmp/override.db"})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected env addr, got %s", cfg.HTTPAddr)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("expected env secret, got %s", cfg.JWTSecret)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Fatalf("expected flag override, got %s", cfg.DBPath)
	}
}

func TestNewServerRequiresSecret(t *testing.T) {
	if _, err := NewServer(Config{DBPath: t.TempDir() + "/db"}); err == nil {
		t.Fatal("expected error without jwt secret")
	}
}
