// lustre-fleet-migrate applies the relational schema pkg/storage reads
// and writes against, tracking which numbered steps already ran in a
// schema_migrations table so re-running the tool is a no-op once the
// schema is current. Mirrors the teacher's migration tool's narrated,
// dry-run-capable, one-step-at-a-time shape, adapted from an in-place
// bbolt bucket rewrite to a sequence of additive Postgres DDL batches.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
)

var (
	dsn    = flag.String("dsn", os.Getenv("LUSTRE_FLEET_POSTGRES_DSN"), "Postgres connection string (default: $LUSTRE_FLEET_POSTGRES_DSN)")
	dryRun = flag.Bool("dry-run", false, "Print pending migrations without applying them")
)

// step is one forward-only, idempotent migration. Steps never edit a
// prior step's statements after release: a schema change ships as a new
// step instead, so schema_migrations stays an accurate append-only log
// of what ran against a given database.
type step struct {
	name string
	sql  string
}

var steps = []step{
	{"001_host", `
		CREATE TABLE IF NOT EXISTS host (
			id   BIGSERIAL PRIMARY KEY,
			fqdn TEXT NOT NULL UNIQUE
		);
	`},
	{"002_device_graph", `
		CREATE TABLE IF NOT EXISTS device (
			id        TEXT PRIMARY KEY,
			kind      TEXT NOT NULL,
			size      BIGINT NOT NULL,
			parents   TEXT[] NOT NULL DEFAULT '{}',
			children  TEXT[] NOT NULL DEFAULT '{}',
			max_depth INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS device_host (
			device_id TEXT NOT NULL REFERENCES device(id) ON DELETE CASCADE,
			host_fqdn TEXT NOT NULL,
			mount_path TEXT NOT NULL DEFAULT '',
			paths     TEXT[] NOT NULL DEFAULT '{}',
			local     BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (device_id, host_fqdn)
		);
		CREATE INDEX IF NOT EXISTS device_host_host_fqdn_idx ON device_host (host_fqdn);
	`},
	{"003_target", `
		CREATE TABLE IF NOT EXISTS target (
			id             BIGSERIAL PRIMARY KEY,
			name           TEXT NOT NULL,
			uuid           TEXT NOT NULL,
			kind           TEXT NOT NULL,
			state          TEXT NOT NULL,
			mount_path     TEXT NOT NULL DEFAULT '',
			dev_path       TEXT NOT NULL DEFAULT '',
			fs_type        TEXT NOT NULL DEFAULT '',
			filesystems    TEXT[] NOT NULL DEFAULT '{}',
			active_host_id BIGINT REFERENCES host(id),
			UNIQUE (name, uuid)
		);
		CREATE INDEX IF NOT EXISTS target_filesystems_gin ON target USING GIN (filesystems);
	`},
	{"004_filesystem", `
		CREATE TABLE IF NOT EXISTS filesystem (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			mgs_host_id BIGINT REFERENCES host(id),
			total_bytes BIGINT,
			free_bytes  BIGINT
		);
	`},
	{"005_ostpool", `
		CREATE TABLE IF NOT EXISTS ostpool (
			id            BIGSERIAL PRIMARY KEY,
			name          TEXT NOT NULL,
			filesystem_id BIGINT NOT NULL REFERENCES filesystem(id) ON DELETE CASCADE,
			UNIQUE (filesystem_id, name)
		);
		CREATE TABLE IF NOT EXISTS ostpool_osts (
			ostpool_id BIGINT NOT NULL REFERENCES ostpool(id) ON DELETE CASCADE,
			ost_id     BIGINT NOT NULL REFERENCES target(id) ON DELETE CASCADE,
			PRIMARY KEY (ostpool_id, ost_id)
		);
	`},
	{"006_snapshot", `
		CREATE TABLE IF NOT EXISTS snapshot (
			id              BIGSERIAL PRIMARY KEY,
			filesystem_name TEXT NOT NULL,
			snapshot_name   TEXT NOT NULL,
			snapshot_fsname TEXT NOT NULL DEFAULT '',
			create_time     TIMESTAMPTZ NOT NULL,
			modify_time     TIMESTAMPTZ NOT NULL,
			mounted         BOOLEAN NOT NULL DEFAULT false,
			comment         TEXT NOT NULL DEFAULT '',
			UNIQUE (filesystem_name, snapshot_name)
		);
		CREATE TABLE IF NOT EXISTS scan_lock (
			id              BIGSERIAL PRIMARY KEY,
			filesystem_name TEXT NOT NULL,
			snapshot_name   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS scan_lock_fs_snap_idx ON scan_lock (filesystem_name, snapshot_name);
	`},
	{"007_snapshot_policy", `
		CREATE TABLE IF NOT EXISTS snapshot_interval (
			id               BIGSERIAL PRIMARY KEY,
			filesystem_name  TEXT NOT NULL UNIQUE,
			use_barrier      BOOLEAN NOT NULL DEFAULT true,
			interval_seconds BIGINT NOT NULL,
			last_run         TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS snapshot_retention (
			id              BIGSERIAL PRIMARY KEY,
			filesystem_name TEXT NOT NULL UNIQUE,
			reserve_value   DOUBLE PRECISION NOT NULL,
			reserve_unit    TEXT NOT NULL,
			keep_num        INT NOT NULL DEFAULT 1,
			last_run        TIMESTAMPTZ
		);
	`},
	{"008_logmessage", `
		CREATE TABLE IF NOT EXISTS logmessage (
			id            BIGSERIAL PRIMARY KEY,
			datetime      TIMESTAMPTZ NOT NULL,
			host_id       BIGINT NOT NULL REFERENCES host(id),
			severity      SMALLINT NOT NULL,
			facility      SMALLINT NOT NULL,
			source        TEXT NOT NULL,
			message       TEXT NOT NULL,
			message_class TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS logmessage_host_id_idx ON logmessage (host_id);
	`},
	{"009_alert_state", `
		CREATE TABLE IF NOT EXISTS alert_state (
			id         BIGSERIAL PRIMARY KEY,
			kind       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT true,
			begin_time TIMESTAMPTZ NOT NULL,
			end_time   TIMESTAMPTZ,
			item_ref   TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS alert_state_active_lookup_idx ON alert_state (kind, item_ref) WHERE active;
	`},
	{"010_mailbox", `
		CREATE TABLE IF NOT EXISTS mailbox_task (
			id            BIGSERIAL PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			records_total BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS mailbox_record (
			id      BIGSERIAL PRIMARY KEY,
			task_id BIGINT NOT NULL REFERENCES mailbox_task(id) ON DELETE CASCADE,
			data    JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS mailbox_record_task_id_idx ON mailbox_record (task_id);
	`},
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)
	log.Println("lustre-fleet schema migrator")
	log.Println("============================")

	if *dsn == "" {
		log.Fatal("--dsn (or $LUSTRE_FLEET_POSTGRES_DSN) is required")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, *dsn)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		log.Fatalf("create schema_migrations: %v", err)
	}

	applied, err := appliedSteps(ctx, conn)
	if err != nil {
		log.Fatalf("read schema_migrations: %v", err)
	}

	pending := 0
	for _, st := range steps {
		if applied[st.name] {
			continue
		}
		pending++
		if *dryRun {
			log.Printf("[DRY RUN] would apply %s", st.name)
			continue
		}

		log.Printf("applying %s...", st.name)
		tx, err := conn.Begin(ctx)
		if err != nil {
			log.Fatalf("%s: begin transaction: %v", st.name, err)
		}
		if _, err := tx.Exec(ctx, st.sql); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatalf("%s: %v", st.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, st.name); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatalf("%s: record migration: %v", st.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			log.Fatalf("%s: commit: %v", st.name, err)
		}
		log.Printf("✓ %s applied", st.name)
	}

	if pending == 0 {
		log.Println("✓ schema already current, nothing to do")
		return
	}
	if *dryRun {
		log.Printf("\n%d migration(s) pending. Run without --dry-run to apply.", pending)
		return
	}
	log.Printf("\n✓ applied %d migration(s)", pending)
}

func appliedSteps(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
