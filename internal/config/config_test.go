package config

import "testing"

func TestParseValidFlags(t *testing.T) {
	cfg, err := Parse([]string{"--db=postgres://localhost/indexer", "--mode=live", "--no-otel-metrics"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DB != "postgres://localhost/indexer" {
		t.Fatalf("db = %q", cfg.DB)
	}
	if cfg.Mode != ModeLive {
		t.Fatalf("mode = %q, want live", cfg.Mode)
	}
	if !cfg.NoOtelMetrics || cfg.NoOtelLogs {
		t.Fatalf("telemetry toggles = (%v, %v)", cfg.NoOtelLogs, cfg.NoOtelMetrics)
	}
}

func TestParseMissingDBIsError(t *testing.T) {
	if _, err := Parse([]string{"--mode=full"}); err == nil {
		t.Fatal("expected error when --db is absent")
	}
}

func TestParseDBFromEnvironment(t *testing.T) {
	t.Setenv("INDEXER_DB", "postgres://env/indexer")
	cfg, err := Parse([]string{"--mode=full"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DB != "postgres://env/indexer" {
		t.Fatalf("db = %q, want value from INDEXER_DB", cfg.DB)
	}
}

func TestParseUnknownModeIsError(t *testing.T) {
	if _, err := Parse([]string{"--db=x", "--mode=sideways"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestModeSelectsComponents(t *testing.T) {
	cases := []struct {
		mode     Mode
		firehose bool
		backfill bool
	}{
		{ModeFull, true, true},
		{ModeLive, true, false},
		{ModeBackfill, false, true},
	}
	for _, tc := range cases {
		c := &Config{Mode: tc.mode}
		if c.RunsFirehose() != tc.firehose || c.RunsBackfill() != tc.backfill {
			t.Fatalf("mode %q: runs = (%v, %v), want (%v, %v)",
				tc.mode, c.RunsFirehose(), c.RunsBackfill(), tc.firehose, tc.backfill)
		}
	}
}
