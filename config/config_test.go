package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("TRANSCODE_TIMEOUT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.FreeCredits != 2 || cfg.CreditsPerVideo != 1 || cfg.CreditsPerVoice != 1 {
		t.Errorf("unexpected credit defaults: %+v", cfg)
	}
	if cfg.TranscodeTimeout != 2*time.Minute {
		t.Errorf("TranscodeTimeout = %v, want 2m", cfg.TranscodeTimeout)
	}
	if cfg.VideoNoteSize != 640 || cfg.VideoNoteMaxSeconds != 60 {
		t.Errorf("unexpected note defaults: %d %d", cfg.VideoNoteSize, cfg.VideoNoteMaxSeconds)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.TraceSampleRatio != 1 || !cfg.OTLPInsecure {
		t.Errorf("unexpected tracing defaults: ratio=%v insecure=%v", cfg.TraceSampleRatio, cfg.OTLPInsecure)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CREDITS_PER_VIDEO", "3")
	t.Setenv("ADMIN_SESSION_TTL", "30s")
	t.Setenv("MAX_CONCURRENT_CONVERSIONS", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CreditsPerVideo != 3 {
		t.Errorf("CreditsPerVideo = %d, want 3", cfg.CreditsPerVideo)
	}
	if cfg.AdminSessionTTL != 30*time.Second {
		t.Errorf("AdminSessionTTL = %v", cfg.AdminSessionTTL)
	}
	if cfg.MaxConcurrent != 1 {
		t.Errorf("MaxConcurrent = %d, want clamp to 1", cfg.MaxConcurrent)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("FREE_CREDITS", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric FREE_CREDITS")
	}
}

func TestLoadRejectsNegativeCost(t *testing.T) {
	t.Setenv("CREDITS_PER_VOICE", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative cost")
	}
}

func TestOwnerIncludedInAdmins(t *testing.T) {
	t.Setenv("OWNER_ID", "7")
	t.Setenv("ADMIN_IDS", "3, 9,3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !slices.Equal(cfg.AdminIDs, []int64{7, 3, 9}) {
		t.Errorf("AdminIDs = %v", cfg.AdminIDs)
	}
}

func TestValidateBotReady(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OWNER_ID", "1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("expected valid bot config, got %v", err)
	}

	t.Setenv("BOT_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.ValidateBotReady(); err == nil {
		t.Errorf("expected error when BOT_TOKEN is missing")
	}

	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OWNER_ID", "")
	t.Setenv("ADMIN_IDS", "")
	cfg, _ = Load()
	if err := cfg.ValidateBotReady(); err == nil {
		t.Errorf("expected error when no admins are configured")
	}
}
