package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"QUERY_MAX_LENGTH", "QUERY_TIMEOUT_MS", "CACHE_SIMILARITY_THRESHOLD", "CACHE_TTL",
		"ROLLOUT_OPTIMIZED_PERCENT", "ROLLOUT_MAX_P95", "COMPRESSION_TARGET_RATIO", "TIER_PRIMARY_BASE_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.QueryMaxLength != 2000 {
		t.Fatalf("expected default max length 2000, got %d", cfg.QueryMaxLength)
	}
	if cfg.QueryTimeout != 60*time.Second {
		t.Fatalf("expected default query timeout 60s, got %s", cfg.QueryTimeout)
	}
	if cfg.CacheSimilarityThreshold != 0.95 {
		t.Fatalf("expected default threshold 0.95, got %v", cfg.CacheSimilarityThreshold)
	}
	if cfg.CacheTTL != 168*time.Hour {
		t.Fatalf("expected default ttl 168h, got %s", cfg.CacheTTL)
	}
	if cfg.RolloutOptimizedPercent != 10 || cfg.RolloutMaxP95 != 15*time.Second {
		t.Fatalf("unexpected rollout defaults: %d %s", cfg.RolloutOptimizedPercent, cfg.RolloutMaxP95)
	}
	if cfg.CompressionTargetRatio != 0.7 {
		t.Fatalf("expected default compression ratio 0.7, got %v", cfg.CompressionTargetRatio)
	}
	if cfg.TierPrimary.Enabled() {
		t.Fatalf("primary tier must be disabled without a base url")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("QUERY_TIMEOUT_MS", "1500")
	t.Setenv("CACHE_TTL", "2h")
	t.Setenv("CACHE_STORE", "SQLite")
	t.Setenv("ROLLOUT_MAX_ERROR_RATE", "0.2")
	t.Setenv("COMPRESSION_PROTECTED_PATTERNS", `KTP-\w+;; ;;NIK \d+`)
	t.Setenv("TIER_SECONDARY_BASE_URL", "https://llm.example.test")
	t.Setenv("TIER_SECONDARY_MODEL", "small-model")
	t.Setenv("TIER_SECONDARY_RPM", "30")

	cfg := Load()
	if cfg.QueryTimeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", cfg.QueryTimeout)
	}
	if cfg.CacheTTL != 2*time.Hour {
		t.Fatalf("expected 2h, got %s", cfg.CacheTTL)
	}
	if cfg.CacheStore != "sqlite" {
		t.Fatalf("expected lower-cased store, got %q", cfg.CacheStore)
	}
	if cfg.RolloutMaxErrorRate != 0.2 {
		t.Fatalf("expected 0.2, got %v", cfg.RolloutMaxErrorRate)
	}
	if len(cfg.CompressionProtectedPatterns) != 2 || cfg.CompressionProtectedPatterns[1] != `NIK \d+` {
		t.Fatalf("unexpected patterns: %q", cfg.CompressionProtectedPatterns)
	}
	if !cfg.TierSecondary.Enabled() || cfg.TierSecondary.RequestsPerMinute != 30 {
		t.Fatalf("unexpected secondary tier: %+v", cfg.TierSecondary)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CACHE_TTL", "forever")
	t.Setenv("QUERY_DEFAULT_TOP_K", "five")
	t.Setenv("QUERY_TIMEOUT_MS", "-5")

	cfg := Load()
	if cfg.CacheTTL != 168*time.Hour || cfg.QueryDefaultTopK != 5 || cfg.QueryTimeout != 60*time.Second {
		t.Fatalf("expected fallbacks, got ttl=%s topk=%d timeout=%s", cfg.CacheTTL, cfg.QueryDefaultTopK, cfg.QueryTimeout)
	}
}

func TestLoadGuardrailLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	body := "document_types:\n  - siup\n  - izin usaha\nrefusal: Di luar cakupan.\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}

	lexicon, err := LoadGuardrailLexicon(path)
	if err != nil {
		t.Fatalf("LoadGuardrailLexicon() error = %v", err)
	}
	if len(lexicon.DocumentTypes) != 2 || lexicon.DocumentTypes[1] != "izin usaha" {
		t.Fatalf("unexpected document types: %v", lexicon.DocumentTypes)
	}
	if lexicon.Refusal != "Di luar cakupan." || len(lexicon.DomainTerms) != 0 {
		t.Fatalf("unexpected lexicon: %+v", lexicon)
	}

	if _, err := LoadGuardrailLexicon(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	empty, err := LoadGuardrailLexicon("")
	if err != nil || len(empty.DocumentTypes) != 0 {
		t.Fatalf("expected empty lexicon without a path")
	}
}
