package config

import (
	"testing"
	"time"
)

func TestLoadPipelineDefaults(t *testing.T) {
	t.Setenv("NATS_SUBJECT_EXTRACT", "")
	t.Setenv("CLASSIFY_CONFIDENCE_THRESHOLD", "")
	t.Setenv("CLASSIFY_HINT_BOOST", "")
	t.Setenv("DEDUP_TTL", "")
	t.Setenv("MODEL_LABELS", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg := Load()
	if cfg.SubjectExtract != "docs.extract" {
		t.Fatalf("expected default extract subject, got %q", cfg.SubjectExtract)
	}
	if cfg.ConfidenceThreshold != 0.5 || cfg.HintBoost != 0.3 {
		t.Fatalf("unexpected classifier defaults: threshold=%v boost=%v", cfg.ConfidenceThreshold, cfg.HintBoost)
	}
	if cfg.DedupTTL != time.Hour {
		t.Fatalf("expected dedup ttl 1h, got %v", cfg.DedupTTL)
	}
	if len(cfg.ModelLabels) != 6 || cfg.ModelLabels[0] != "Finance" {
		t.Fatalf("unexpected default labels %v", cfg.ModelLabels)
	}
	if cfg.StorageBackend != "localfs" {
		t.Fatalf("expected localfs backend, got %q", cfg.StorageBackend)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("DEDUP_TTL", "90")
	t.Setenv("INBOX_POLL_INTERVAL", "250ms")
	t.Setenv("CLASSIFY_CONFIDENCE_THRESHOLD", "0.65")
	t.Setenv("MODEL_LABELS", " Finance, Legal ,,General")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.DedupTTL != 90*time.Second {
		t.Fatalf("expected bare seconds to parse, got %v", cfg.DedupTTL)
	}
	if cfg.InboxPollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms poll interval, got %v", cfg.InboxPollInterval)
	}
	if cfg.ConfidenceThreshold != 0.65 {
		t.Fatalf("expected threshold override, got %v", cfg.ConfidenceThreshold)
	}
	if len(cfg.ModelLabels) != 3 || cfg.ModelLabels[1] != "Legal" {
		t.Fatalf("unexpected labels %v", cfg.ModelLabels)
	}
	if cfg.StorageBackend != "minio" || cfg.BreakerEnabled {
		t.Fatalf("unexpected overrides backend=%q breaker=%v", cfg.StorageBackend, cfg.BreakerEnabled)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "big")
	t.Setenv("RETRY_JITTER", "soon")

	cfg := Load()
	if cfg.ChunkSize != 900 || cfg.RetryJitter != 500*time.Millisecond {
		t.Fatalf("expected fallbacks, got chunk=%d jitter=%v", cfg.ChunkSize, cfg.RetryJitter)
	}
}
