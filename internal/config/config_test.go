package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.HTTPPort)
	}
	if cfg.JWTSecret != "test-secret" {
		t.Errorf("expected JWT secret from env, got %q", cfg.JWTSecret)
	}
	if cfg.ClusterIdleDays != 14 {
		t.Errorf("expected 14 idle days, got %d", cfg.ClusterIdleDays)
	}
	if cfg.EmbeddingRatePerSecond != 5 {
		t.Errorf("expected embedding rate 5, got %v", cfg.EmbeddingRatePerSecond)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("INGEST_API_KEYS", " key-a, ,key-b ")
	t.Setenv("EMBEDDING_RATE_PER_SECOND", "2.5")
	t.Setenv("ANALYSIS_CONCURRENCY", "not-a-number")

	cfg, _ := Load()
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.HTTPPort)
	}
	if len(cfg.IngestAPIKeys) != 2 || cfg.IngestAPIKeys[0] != "key-a" || cfg.IngestAPIKeys[1] != "key-b" {
		t.Errorf("unexpected ingest keys %v", cfg.IngestAPIKeys)
	}
	if cfg.EmbeddingRatePerSecond != 2.5 {
		t.Errorf("expected 2.5, got %v", cfg.EmbeddingRatePerSecond)
	}
	if cfg.AnalysisConcurrency != 4 {
		t.Errorf("expected invalid int to fall back to 4, got %d", cfg.AnalysisConcurrency)
	}
}

func TestLoadOrGenerateJWTSecret_PersistsToFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := filepath.Join(t.TempDir(), "nested", ".jwt_secret")

	first := loadOrGenerateJWTSecret(path)
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
	second := loadOrGenerateJWTSecret(path)
	if first != second {
		t.Error("expected secret to be reused from file")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	tests := []struct {
		department string
		expected   int
	}{
		{"IT", 5},
		{"HR", 3},
		{"Finance", 3},
		{"Admin", 4},
		{"Facilities", 4},
		{"Legal", 3},
		{"", 3},
	}
	for _, tt := range tests {
		if got := p.AlertThreshold(tt.department); got != tt.expected {
			t.Errorf("AlertThreshold(%q) = %d, expected %d", tt.department, got, tt.expected)
		}
	}

	if p.SpamWindow() != 5*time.Minute {
		t.Errorf("expected 5 minute window, got %v", p.SpamWindow())
	}
}

func writePolicy(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	return path
}

func TestLoadPolicy_MergesOverDefaults(t *testing.T) {
	path := writePolicy(t, t.TempDir(), `
similarity_threshold: 0.9
department_thresholds:
  IT: 8
  Legal: 2
spam:
  window_minutes: 10
`)

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SimilarityThreshold != 0.9 {
		t.Errorf("expected 0.9, got %v", p.SimilarityThreshold)
	}
	if p.AlertThreshold("IT") != 8 || p.AlertThreshold("Legal") != 2 || p.AlertThreshold("Admin") != 4 {
		t.Errorf("unexpected thresholds %v", p.DepartmentThresholds)
	}
	if p.Spam.WindowMinutes != 10 || p.Spam.RapidSubmissionThreshold != 3 {
		t.Errorf("unexpected spam policy %+v", p.Spam)
	}
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "similarity_threshold: [unclosed"},
		{"threshold above one", "similarity_threshold: 1.5"},
		{"zero department threshold", "department_thresholds:\n  IT: 0"},
		{"severity inverted", "severity:\n  high_at: 12\n  critical_at: 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicy(t, t.TempDir(), tt.content)
			if _, err := LoadPolicy(path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPolicySource_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	src := NewPolicySource(DefaultPolicy())

	path := writePolicy(t, dir, "similarity_threshold: 7")
	if err := src.Reload(path); err == nil {
		t.Fatal("expected reload error")
	}
	if src.Current().SimilarityThreshold != 0.85 {
		t.Errorf("expected previous policy to stay active, got %v", src.Current().SimilarityThreshold)
	}
}

func TestPolicySource_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "similarity_threshold: 0.8")

	src := NewPolicySource(DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Watch(ctx, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writePolicy(t, dir, "similarity_threshold: 0.7")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if src.Current().SimilarityThreshold == 0.7 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("expected watched policy to reload, got %v", src.Current().SimilarityThreshold)
}
