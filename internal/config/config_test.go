package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LexicalThreshold != 0.30 {
		t.Errorf("expected default lexical threshold 0.30, got %v", cfg.LexicalThreshold)
	}
	if cfg.SemanticThreshold != 0.75 {
		t.Errorf("expected default semantic threshold 0.75, got %v", cfg.SemanticThreshold)
	}
	if cfg.VerificationThreshold != 0.70 {
		t.Errorf("expected default verification threshold 0.70, got %v", cfg.VerificationThreshold)
	}
	if cfg.PriorityDelay != 4*time.Minute {
		t.Errorf("expected default priority delay 4m, got %v", cfg.PriorityDelay)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Errorf("expected default flush interval 30s, got %v", cfg.FlushInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PRIORITY_DELAY", "2m")
	t.Setenv("LEXICAL_THRESHOLD", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.PriorityDelay != 2*time.Minute {
		t.Errorf("expected priority delay 2m, got %v", cfg.PriorityDelay)
	}
	if cfg.LexicalThreshold != 0.5 {
		t.Errorf("expected lexical threshold 0.5, got %v", cfg.LexicalThreshold)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid FLUSH_INTERVAL")
	}
}
