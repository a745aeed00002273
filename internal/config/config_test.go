package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"NODE_ENV", "PORT", "COLAB_JOIN_TOKEN_SECRET", "CRON_SECRET", "COLAB_EMPTY_WORKSPACE_RETENTION_MS", "COLAB_LOG_LEVEL", "COLAB_LOG_PATH"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.EmptyWorkspaceRetention != DefaultEmptyWorkspaceRetention {
		t.Errorf("retention = %s, want %s", cfg.EmptyWorkspaceRetention, DefaultEmptyWorkspaceRetention)
	}
	if cfg.JoinTokenSecret != devFallbackSecret {
		t.Error("dev fallback secret not applied outside production")
	}
}

// TestSecretResolutionOrder verifies the primary env wins over the fallback
func TestSecretResolutionOrder(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRON_SECRET", "cron")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JoinTokenSecret != "cron" {
		t.Errorf("secret = %q, want CRON_SECRET fallback", cfg.JoinTokenSecret)
	}

	t.Setenv("COLAB_JOIN_TOKEN_SECRET", "primary")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JoinTokenSecret != "primary" {
		t.Errorf("secret = %q, want primary env", cfg.JoinTokenSecret)
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("production without a secret did not fail validation")
	}

	t.Setenv("COLAB_JOIN_TOKEN_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JoinTokenSecret != "s3cret" {
		t.Error("configured secret not picked up in production")
	}
}

func TestRetentionParsing(t *testing.T) {
	clearEnv(t)

	t.Setenv("COLAB_EMPTY_WORKSPACE_RETENTION_MS", "5000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.EmptyWorkspaceRetention != 5*time.Second {
		t.Errorf("retention = %s, want 5s", cfg.EmptyWorkspaceRetention)
	}

	t.Setenv("COLAB_EMPTY_WORKSPACE_RETENTION_MS", "0")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.EmptyWorkspaceRetention != 0 {
		t.Errorf("retention = %s, want 0", cfg.EmptyWorkspaceRetention)
	}

	for _, bad := range []string{"-1", "soon", "1.5"} {
		t.Setenv("COLAB_EMPTY_WORKSPACE_RETENTION_MS", bad)
		if _, err := Load(); err == nil {
			t.Errorf("retention %q did not fail validation", bad)
		}
	}
}

func TestInvalidPort(t *testing.T) {
	clearEnv(t)
	for _, bad := range []string{"0", "-1", "70000", "http"} {
		t.Setenv("PORT", bad)
		if _, err := Load(); err == nil {
			t.Errorf("PORT=%q did not fail validation", bad)
		}
	}
}
