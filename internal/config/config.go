// Package config parses the indexer's CLI surface and validates it
// before startup. The CLI is a thin external collaborator: a database
// connection string, a run mode, telemetry toggles, and an optional
// certificate bundle.
package config

import (
	"flag"
	"fmt"
	"os"
)

// Mode selects which of the Firehose Consumer and Backfill Scheduler run.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeLive     Mode = "live"
	ModeBackfill Mode = "backfill"
)

// Config holds the parsed and validated CLI surface.
type Config struct {
	// DB is the PostgreSQL connection string ("--db").
	DB string

	// Mode selects which components run ("--mode=full|live|backfill").
	Mode Mode

	// NoOtelLogs and NoOtelMetrics disable telemetry emission.
	NoOtelLogs    bool
	NoOtelMetrics bool

	// Certs is an additional root certificate bundle path, if any.
	Certs string

	// OpsAddr is the listen address for the health/metrics endpoint.
	OpsAddr string
}

// Parse parses args (normally os.Args[1:]) into a validated Config.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("indexer", flag.ContinueOnError)

	db := fs.String("db", "", "PostgreSQL connection string")
	mode := fs.String("mode", string(ModeFull), "full|live|backfill")
	noOtelLogs := fs.Bool("no-otel-logs", false, "disable OpenTelemetry log export")
	noOtelMetrics := fs.Bool("no-otel-metrics", false, "disable OpenTelemetry metric export")
	certs := fs.String("certs", "", "additional root certificate bundle path")
	opsAddr := fs.String("ops-addr", ":2112", "listen address for the health/metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	// The connection string may carry credentials; allow passing it via
	// the environment instead of the command line.
	if *db == "" {
		*db = os.Getenv("INDEXER_DB")
	}

	cfg := &Config{
		DB:            *db,
		Mode:          Mode(*mode),
		NoOtelLogs:    *noOtelLogs,
		NoOtelMetrics: *noOtelMetrics,
		Certs:         *certs,
		OpsAddr:       *opsAddr,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	switch {
	case c.DB == "":
		return fmt.Errorf("config: --db is required")
	case c.Mode != ModeFull && c.Mode != ModeLive && c.Mode != ModeBackfill:
		return fmt.Errorf("config: --mode must be one of full|live|backfill, got %q", c.Mode)
	}
	return nil
}

// RunsFirehose reports whether this mode starts the Firehose Consumer.
func (c *Config) RunsFirehose() bool {
	return c.Mode == ModeFull || c.Mode == ModeLive
}

// RunsBackfill reports whether this mode starts the Backfill Scheduler.
func (c *Config) RunsBackfill() bool {
	return c.Mode == ModeFull || c.Mode == ModeBackfill
}
