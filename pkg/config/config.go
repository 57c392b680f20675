/*
Package config loads the fleet manager's process configuration once at
startup into an immutable Config value, passed by reference to every
component's constructor. There is no global mutable settings singleton
(§9's "Global mutable state" note): everything a component needs is an
explicit field on the Config it was constructed with.

Values are read from environment variables first, then overridden by an
optional YAML file (gopkg.in/yaml.v3) when LUSTRE_FLEET_CONFIG_FILE
points at one, matching the teacher's convention of layering a file over
defaults rather than requiring one.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whamcloud/lustre-fleet/pkg/log"
)

// Config is the fleet manager's full process configuration. Every field
// has an environment-variable source and, where the file format names
// it differently, a yaml tag.
type Config struct {
	// NodeID identifies this manager replica for Raft leader election.
	NodeID string `yaml:"node_id"`
	// RaftBindAddr is the address this replica's Raft transport binds.
	RaftBindAddr string `yaml:"raft_bind_addr"`
	// DataDir holds the Raft log/snapshot store and the CheckpointStore
	// bbolt file.
	DataDir string `yaml:"data_dir"`

	// TransportListenAddr is the TCP address agents dial for the
	// length-prefixed manager/agent session protocol (pkg/transport).
	TransportListenAddr string `yaml:"transport_listen_addr"`
	// MailboxDir holds the per-task "<task>.sock" Unix domain sockets
	// the mailbox listener serves (pkg/ingest.MailboxListener).
	MailboxDir string `yaml:"mailbox_dir"`

	// PostgresDSN is the connection string for pkg/storage.Open.
	PostgresDSN string `yaml:"postgres_dsn"`
	// PostgresMaxConns bounds the pgxpool connection pool.
	PostgresMaxConns int32 `yaml:"postgres_max_conns"`

	// ReconcileInterval is a loaded reconciliation period. pkg/reconciler
	// does not read it; its C7 snapshot ticker runs every 10 seconds.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// JournalMaxRows is a loaded journal row cap. Nothing passes it to
	// pkg/journal, whose purge watermarks come from journal.Ingest's caller.
	JournalMaxRows int64 `yaml:"journal_max_rows"`

	// MetricsListenAddr serves the Prometheus /metrics endpoint.
	MetricsListenAddr string `yaml:"metrics_listen_addr"`

	// LogLevel and LogJSON configure pkg/log.Init.
	LogLevel log.Level `yaml:"log_level"`
	LogJSON  bool      `yaml:"log_json"`
}

// defaults returns the Config used before environment and file
// overrides are applied.
func defaults() Config {
	return Config{
		NodeID:              hostnameOrDefault(),
		RaftBindAddr:        "0.0.0.0:7070",
		DataDir:             "/var/lib/lustre-fleet",
		TransportListenAddr: "0.0.0.0:7071",
		MailboxDir:          "/var/lib/lustre-fleet/mailbox",
		PostgresDSN:         "postgres://localhost:5432/lustre_fleet",
		PostgresMaxConns:    2,
		ReconcileInterval:   30 * time.Second,
		JournalMaxRows:      1_000_000,
		MetricsListenAddr:   "0.0.0.0:9090",
		LogLevel:            log.InfoLevel,
		LogJSON:             true,
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "lustre-fleet-manager"
	}
	return h
}

// Load builds a Config from defaults, environment variables, and
// (optionally) the YAML file named by LUSTRE_FLEET_CONFIG_FILE, in that
// priority order (later sources win).
func Load() (*Config, error) {
	cfg := defaults()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if path := os.Getenv("LUSTRE_FLEET_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("LUSTRE_FLEET_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("LUSTRE_FLEET_RAFT_BIND_ADDR"); v != "" {
		cfg.RaftBindAddr = v
	}
	if v := os.Getenv("LUSTRE_FLEET_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LUSTRE_FLEET_TRANSPORT_LISTEN_ADDR"); v != "" {
		cfg.TransportListenAddr = v
	}
	if v := os.Getenv("LUSTRE_FLEET_MAILBOX_DIR"); v != "" {
		cfg.MailboxDir = v
	}
	if v := os.Getenv("LUSTRE_FLEET_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("LUSTRE_FLEET_POSTGRES_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: LUSTRE_FLEET_POSTGRES_MAX_CONNS: %w", err)
		}
		cfg.PostgresMaxConns = int32(n)
	}
	if v := os.Getenv("LUSTRE_FLEET_RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: LUSTRE_FLEET_RECONCILE_INTERVAL: %w", err)
		}
		cfg.ReconcileInterval = d
	}
	if v := os.Getenv("LUSTRE_FLEET_JOURNAL_MAX_ROWS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: LUSTRE_FLEET_JOURNAL_MAX_ROWS: %w", err)
		}
		cfg.JournalMaxRows = n
	}
	if v := os.Getenv("LUSTRE_FLEET_METRICS_LISTEN_ADDR"); v != "" {
		cfg.MetricsListenAddr = v
	}
	if v := os.Getenv("LUSTRE_FLEET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = log.Level(v)
	}
	if v := os.Getenv("LUSTRE_FLEET_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: LUSTRE_FLEET_LOG_JSON: %w", err)
		}
		cfg.LogJSON = b
	}
	return nil
}
