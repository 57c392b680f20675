// Package storage implements the Persistence Adapter (C10): the
// relational store every other component reads from and writes
// through, grounded on original_source/emf-postgres's connection
// pooling and query shapes, and on emf-journal/emf-mailbox/emf-ostpool's
// UNNEST-based batch insert pattern.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/whamcloud/lustre-fleet/pkg/changebus"
	"github.com/whamcloud/lustre-fleet/pkg/errs"
	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Store is the concrete relational store backing every package's
// persistence interface (journal.Store, alert.Store, ostpool.Store, and
// the entity tables written by C2/C3/C7). A single pgxpool.Pool is
// shared across the manager process, mirroring get_db_pool's one-pool-
// per-process convention.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pooled Postgres store, analogous to emf-postgres's
// get_db_pool but taking a full DSN rather than env-derived host/port
// fragments, since this module has one configuration layer (pkg/config)
// instead of per-service env lookups.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.New(errs.Fatal, "invalid postgres dsn", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.New(errs.Fatal, "failed to connect to postgres", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// InTransaction runs fn inside a single transaction, committing on
// success and rolling back if fn returns an error or panics.
func (s *Store) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}

// IngestWriter is the write surface Host Inventory Ingest (pkg/ingest)
// uses inside its single per-message transaction: the C2/C3 entity
// writes plus the C9 change-bus notification, without exposing the raw
// pgx.Tx to callers outside this package — keeping the interface narrow
// enough that tests can fake it without a real database driver.
type IngestWriter interface {
	UpsertDevices(ctx context.Context, devices []types.Device) error
	DeleteDevices(ctx context.Context, ids []types.DeviceID) error
	UpsertDeviceHosts(ctx context.Context, hosts []types.DeviceHost) error
	DeleteDeviceHosts(ctx context.Context, hosts []types.DeviceHost) error
	UpsertTargets(ctx context.Context, targets []types.Target) error
	DeleteTargets(ctx context.Context, targets []types.Target) error
	PublishChange(ctx context.Context, channel string, delta changebus.Delta) error
}

type txWriter struct{ tx pgx.Tx }

func (w txWriter) UpsertDevices(ctx context.Context, devices []types.Device) error {
	return UpsertDevices(ctx, w.tx, devices)
}

func (w txWriter) DeleteDevices(ctx context.Context, ids []types.DeviceID) error {
	return DeleteDevices(ctx, w.tx, ids)
}

func (w txWriter) UpsertDeviceHosts(ctx context.Context, hosts []types.DeviceHost) error {
	return UpsertDeviceHosts(ctx, w.tx, hosts)
}

func (w txWriter) DeleteDeviceHosts(ctx context.Context, hosts []types.DeviceHost) error {
	return DeleteDeviceHosts(ctx, w.tx, hosts)
}

func (w txWriter) UpsertTargets(ctx context.Context, targets []types.Target) error {
	return UpsertTargets(ctx, w.tx, targets)
}

func (w txWriter) DeleteTargets(ctx context.Context, targets []types.Target) error {
	return DeleteTargets(ctx, w.tx, targets)
}

func (w txWriter) PublishChange(ctx context.Context, channel string, delta changebus.Delta) error {
	return NotifyOnChange(ctx, w.tx, channel, delta)
}

// IngestTransaction runs fn against a transaction-scoped IngestWriter,
// committing on success and rolling back on error or panic.
func (s *Store) IngestTransaction(ctx context.Context, fn func(w IngestWriter) error) error {
	return s.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(txWriter{tx: tx})
	})
}

// NotifyOnChange emits a pg_notify carrying delta as its JSON payload,
// the producer side of pkg/changebus.Listener's LISTEN/NOTIFY bridge.
// Call it within the same transaction that persisted the change so
// subscribers never observe a notification for an uncommitted row.
func NotifyOnChange(ctx context.Context, tx pgx.Tx, channel string, delta changebus.Delta) error {
	if delta.Timestamp.IsZero() {
		delta.Timestamp = time.Now()
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))
	return err
}

// HostID resolves a host's fqdn to its row id, mirroring
// emf-postgres's host_id_by_fqdn.
func (s *Store) HostID(ctx context.Context, fqdn string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "SELECT id FROM host WHERE fqdn = $1", fqdn).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ActiveMgsHostFqdn mirrors emf-postgres's active_mgs_host_fqdn: the
// fqdn currently mounting fsname's MGT, or "" if none.
func (s *Store) ActiveMgsHostFqdn(ctx context.Context, fsname string) (string, bool, error) {
	var activeHostID *int64
	err := s.pool.QueryRow(ctx,
		`SELECT active_host_id FROM target WHERE $1 = ANY(filesystems) AND name = 'MGS'`,
		fsname,
	).Scan(&activeHostID)
	if err == pgx.ErrNoRows || activeHostID == nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var fqdn string
	if err := s.pool.QueryRow(ctx, "SELECT fqdn FROM host WHERE id = $1", *activeHostID).Scan(&fqdn); err != nil {
		return "", false, err
	}
	return fqdn, true, nil
}

// --- ostpool.Store ---

// FilesystemID resolves a filesystem name to its row id, assuming (per
// emf-ostpool's fsid) a single row exists for any given name.
func (s *Store) FilesystemID(ctx context.Context, fsname string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "SELECT id FROM filesystem WHERE name = $1", fsname).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// PoolSet returns the stored ostpools for fsid with their OST
// memberships populated, unlike emf-ostpool's poolset (which defers
// osts to a separate join); this module fetches both in one round trip
// since it has no streaming row-at-a-time boundary to respect.
func (s *Store) PoolSet(ctx context.Context, fsid int64) ([]types.OstPool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.name, t.name
		FROM ostpool p
		LEFT JOIN ostpool_osts po ON po.ostpool_id = p.id
		LEFT JOIN target t ON t.id = po.ost_id
		WHERE p.filesystem_id = $1
		ORDER BY p.name
	`, fsid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := make(map[string]*types.OstPool)
	var order []string
	for rows.Next() {
		var poolName string
		var ostName *string
		if err := rows.Scan(&poolName, &ostName); err != nil {
			return nil, err
		}
		pool, ok := byName[poolName]
		if !ok {
			pool = &types.OstPool{Name: poolName}
			byName[poolName] = pool
			order = append(order, poolName)
		}
		if ostName != nil {
			pool.Osts = append(pool.Osts, *ostName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.OstPool, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (s *Store) CreatePool(ctx context.Context, fsid int64, pool types.OstPool) error {
	_, err := s.pool.Exec(ctx, "INSERT INTO ostpool (name, filesystem_id) VALUES ($1, $2)", pool.Name, fsid)
	return err
}

func (s *Store) DeletePool(ctx context.Context, fsid int64, name string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM ostpool WHERE filesystem_id = $1 AND name = $2", fsid, name)
	return err
}

// ostID resolves an OST name against fsid's target list, mirroring
// emf-ostpool's ostid; an unresolved name is reported via ok=false so
// callers can skip it (best-effort membership per §4.6).
func (s *Store) ostID(ctx context.Context, fsid int64, ostName string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT t.id FROM target t
		JOIN filesystem f ON f.id = $1
		WHERE f.name = ANY(t.filesystems) AND t.name = $2
	`, fsid, ostName).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) Grow(ctx context.Context, fsid int64, poolName string, osts []string) error {
	for _, ostName := range osts {
		ostID, ok, err := s.ostID(ctx, fsid, ostName)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO ostpool_osts (ostpool_id, ost_id)
			SELECT p.id, $2 FROM ostpool p WHERE p.filesystem_id = $1 AND p.name = $3
			ON CONFLICT DO NOTHING
		`, fsid, ostID, poolName)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Shrink(ctx context.Context, fsid int64, poolName string, osts []string) error {
	for _, ostName := range osts {
		ostID, ok, err := s.ostID(ctx, fsid, ostName)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		_, err = s.pool.Exec(ctx, `
			DELETE FROM ostpool_osts po
			USING ostpool p
			WHERE po.ostpool_id = p.id AND p.filesystem_id = $1 AND p.name = $2 AND po.ost_id = $3
		`, fsid, poolName, ostID)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- journal.Store ---

func (s *Store) RowCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM logmessage").Scan(&n)
	return n, err
}

// PurgeOldest deletes up to n oldest rows by id, mirroring
// emf-journal's purge_excess DELETE ... ORDER BY id LIMIT.
func (s *Store) PurgeOldest(ctx context.Context, n int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM logmessage
		WHERE id IN (SELECT id FROM logmessage ORDER BY id LIMIT $1)
	`, n)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertBatch inserts rows for hostID in one UNNEST statement, the same
// shape as emf-journal's six-column UNNEST insert.
func (s *Store) InsertBatch(ctx context.Context, hostID int64, rows []types.LogMessage) error {
	if len(rows) == 0 {
		return nil
	}

	datetimes := make([]time.Time, len(rows))
	severities := make([]int16, len(rows))
	facilities := make([]int16, len(rows))
	sources := make([]string, len(rows))
	messages := make([]string, len(rows))
	classes := make([]string, len(rows))

	for i, r := range rows {
		datetimes[i] = r.Datetime
		severities[i] = r.Severity
		facilities[i] = r.Facility
		sources[i] = r.Source
		messages[i] = r.Message
		classes[i] = r.MessageClass
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO logmessage (datetime, host_id, severity, facility, source, message, message_class)
		SELECT datetime, $2, severity, facility, source, message, message_class
		FROM UNNEST($1::timestamptz[], $3::smallint[], $4::smallint[], $5::text[], $6::text[], $7::text[])
		AS t(datetime, severity, facility, source, message, message_class)
	`, datetimes, hostID, severities, facilities, sources, messages, classes)
	return err
}

// --- alert.Store ---

func (s *Store) ActiveAlert(ctx context.Context, kind types.AlertRecordType, itemRef string) (*types.AlertState, error) {
	var a types.AlertState
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, severity, active, begin_time, item_ref, message
		FROM alert_state
		WHERE kind = $1 AND item_ref = $2 AND active
	`, string(kind), itemRef).Scan(&a.ID, &a.Kind, &a.Severity, &a.Active, &a.Begin, &a.ItemRef, &a.Message)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Insert(ctx context.Context, a types.AlertState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_state (kind, severity, active, begin_time, item_ref, message)
		VALUES ($1, $2, true, $3, $4, $5)
	`, string(a.Kind), a.Severity, a.Begin, a.ItemRef, a.Message)
	return err
}

func (s *Store) CloseActive(ctx context.Context, kinds []types.AlertRecordType, itemRef string, end time.Time) (int, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_state SET active = false, end_time = $1
		WHERE item_ref = $2 AND kind = ANY($3) AND active
	`, end, itemRef, names)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- target/device/snapshot entity persistence (C2/C3/C7 output) ---
//
// The device, device-host and target writers below take a pgx.Tx
// rather than acting on the pool directly: the Host Inventory Ingest
// consumer (pkg/ingest) writes C2's device-host rows and C3's target
// diff as one transaction per §5's "C2+C3 batched writes of a single
// ingest" rule, so the caller owns the transaction boundary.

// UpsertDevices batch-upserts the content-addressed Device rows a
// device-graph merge produced.
func UpsertDevices(ctx context.Context, tx pgx.Tx, devices []types.Device) error {
	if len(devices) == 0 {
		return nil
	}

	ids := make([]string, len(devices))
	kinds := make([]string, len(devices))
	sizes := make([]int64, len(devices))
	parents := make([][]string, len(devices))
	children := make([][]string, len(devices))
	maxDepths := make([]int, len(devices))

	for i, d := range devices {
		ids[i] = string(d.ID)
		kinds[i] = string(d.Kind)
		sizes[i] = int64(d.Size)
		parents[i] = idsToStrings(d.Parents)
		children[i] = idsToStrings(d.Children)
		maxDepths[i] = d.MaxDepth
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO device (id, kind, size, parents, children, max_depth)
		SELECT id, kind, size, parents, children, max_depth
		FROM UNNEST($1::text[], $2::text[], $3::bigint[], $4::text[][], $5::text[][], $6::int[])
		AS t(id, kind, size, parents, children, max_depth)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			size = EXCLUDED.size,
			parents = EXCLUDED.parents,
			children = EXCLUDED.children,
			max_depth = EXCLUDED.max_depth
	`, ids, kinds, sizes, parents, children, maxDepths)
	return err
}

// DeleteDevices removes the Device rows no host references any longer
// (the C2 lifecycle rule: "destroyed only when no DeviceHost references
// it on any host").
func DeleteDevices(ctx context.Context, tx pgx.Tx, ids []types.DeviceID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := idsToStrings(ids)
	_, err := tx.Exec(ctx, `DELETE FROM device WHERE id = ANY($1::text[])`, strs)
	return err
}

func idsToStrings(ids []types.DeviceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// UpsertTargets batch-upserts targets by (name, uuid), the UNNEST
// pattern used throughout the original's batch write paths.
func UpsertTargets(ctx context.Context, tx pgx.Tx, targets []types.Target) error {
	if len(targets) == 0 {
		return nil
	}

	names := make([]string, len(targets))
	uuids := make([]string, len(targets))
	kinds := make([]string, len(targets))
	states := make([]string, len(targets))
	mountPaths := make([]string, len(targets))
	devPaths := make([]string, len(targets))
	fsTypes := make([]string, len(targets))
	filesystems := make([][]string, len(targets))

	for i, t := range targets {
		names[i] = t.Name
		uuids[i] = t.UUID
		kinds[i] = string(t.Kind)
		states[i] = string(t.State)
		mountPaths[i] = t.MountPath
		devPaths[i] = string(t.DevPath)
		fsTypes[i] = t.FsType
		filesystems[i] = t.Filesystems
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO target (name, uuid, kind, state, mount_path, dev_path, fs_type, filesystems)
		SELECT name, uuid, kind, state, mount_path, dev_path, fs_type, filesystems
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[][])
		AS t(name, uuid, kind, state, mount_path, dev_path, fs_type, filesystems)
		ON CONFLICT (name, uuid) DO UPDATE SET
			state = EXCLUDED.state,
			mount_path = EXCLUDED.mount_path,
			dev_path = EXCLUDED.dev_path,
			filesystems = EXCLUDED.filesystems
	`, names, uuids, kinds, states, mountPaths, devPaths, fsTypes, filesystems)
	return err
}

// DeleteTargets batch-deletes targets by (name, uuid).
func DeleteTargets(ctx context.Context, tx pgx.Tx, targets []types.Target) error {
	if len(targets) == 0 {
		return nil
	}
	names := make([]string, len(targets))
	uuids := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
		uuids[i] = t.UUID
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM target t
		USING UNNEST($1::text[], $2::text[]) AS d(name, uuid)
		WHERE t.name = d.name AND t.uuid = d.uuid
	`, names, uuids)
	return err
}

// UpsertDeviceHosts batch-upserts device_host rows by (device_id,
// host_fqdn). Callers diff the full merged graph (pkg/diff, keyed by
// DeviceHost.Key) against the previously stored set before calling this,
// since virtual propagation can add or retract a row for a host that
// wasn't the one whose ingest triggered the merge (§4.2's retraction
// step) — a naive per-host replace would miss those.
func UpsertDeviceHosts(ctx context.Context, tx pgx.Tx, hosts []types.DeviceHost) error {
	if len(hosts) == 0 {
		return nil
	}

	deviceIDs := make([]string, len(hosts))
	hostFqdns := make([]string, len(hosts))
	mountPaths := make([]string, len(hosts))
	paths := make([][]string, len(hosts))
	locals := make([]bool, len(hosts))

	for i, h := range hosts {
		deviceIDs[i] = string(h.DeviceID)
		hostFqdns[i] = h.HostFqdn
		mountPaths[i] = h.MountPath
		p := make([]string, len(h.Paths))
		for j, sp := range h.Paths {
			p[j] = string(sp)
		}
		paths[i] = p
		locals[i] = h.Local
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO device_host (device_id, host_fqdn, mount_path, paths, local)
		SELECT device_id, host_fqdn, mount_path, paths, local
		FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[][], $5::bool[])
		AS t(device_id, host_fqdn, mount_path, paths, local)
		ON CONFLICT (device_id, host_fqdn) DO UPDATE SET
			mount_path = EXCLUDED.mount_path,
			paths = EXCLUDED.paths,
			local = EXCLUDED.local
	`, deviceIDs, hostFqdns, mountPaths, paths, locals)
	return err
}

// DeleteDeviceHosts batch-deletes device_host rows by (device_id,
// host_fqdn) — the persisted form of §4.2's retraction step.
func DeleteDeviceHosts(ctx context.Context, tx pgx.Tx, hosts []types.DeviceHost) error {
	if len(hosts) == 0 {
		return nil
	}
	deviceIDs := make([]string, len(hosts))
	hostFqdns := make([]string, len(hosts))
	for i, h := range hosts {
		deviceIDs[i] = string(h.DeviceID)
		hostFqdns[i] = h.HostFqdn
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM device_host dh
		USING UNNEST($1::text[], $2::text[]) AS d(device_id, host_fqdn)
		WHERE dh.device_id = d.device_id AND dh.host_fqdn = d.host_fqdn
	`, deviceIDs, hostFqdns)
	return err
}

// AllDeviceHosts returns every stored device_host row, the baseline C2
// diffs the freshly merged graph against.
func (s *Store) AllDeviceHosts(ctx context.Context) ([]types.DeviceHost, error) {
	rows, err := s.pool.Query(ctx, `SELECT device_id, host_fqdn, mount_path, paths, local FROM device_host`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DeviceHost
	for rows.Next() {
		var dh types.DeviceHost
		var deviceID string
		var paths []string
		if err := rows.Scan(&deviceID, &dh.HostFqdn, &dh.MountPath, &paths, &dh.Local); err != nil {
			return nil, err
		}
		dh.DeviceID = types.DeviceID(deviceID)
		for _, p := range paths {
			dh.Paths = append(dh.Paths, types.DevicePath(p))
		}
		out = append(out, dh)
	}
	return out, rows.Err()
}

// AllDevices returns every stored Device row, the baseline C2 diffs the
// freshly merged graph's device set against.
func (s *Store) AllDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, kind, size, parents, children, max_depth FROM device`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		var d types.Device
		var id string
		var parents, children []string
		if err := rows.Scan(&id, &d.Kind, &d.Size, &parents, &children, &d.MaxDepth); err != nil {
			return nil, err
		}
		d.ID = types.DeviceID(id)
		for _, p := range parents {
			d.Parents = append(d.Parents, types.DeviceID(p))
		}
		for _, c := range children {
			d.Children = append(d.Children, types.DeviceID(c))
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Snapshots returns the stored snapshots for a filesystem, ordered by
// CreateTime ascending as the retention policy requires.
func (s *Store) Snapshots(ctx context.Context, fsname string) ([]types.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT filesystem_name, snapshot_name, snapshot_fsname, create_time, modify_time, mounted, comment
		FROM snapshot WHERE filesystem_name = $1 ORDER BY create_time ASC
	`, fsname)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Snapshot
	for rows.Next() {
		var sn types.Snapshot
		if err := rows.Scan(&sn.FilesystemName, &sn.SnapshotName, &sn.SnapshotFsname, &sn.CreateTime, &sn.ModifyTime, &sn.Mounted, &sn.Comment); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// ScanLocked reports whether snapshotName has an active ScanLock row,
// per the retention-vs-scan-lock resolution recorded in DESIGN.md.
func (s *Store) ScanLocked(ctx context.Context, fsname, snapshotName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM scan_lock WHERE filesystem_name = $1 AND snapshot_name = $2)
	`, fsname, snapshotName).Scan(&exists)
	return exists, err
}

// --- mailbox task queue (supplemented feature, generalized from the
// original's Lustre-FID task queue) ---

// TaskID resolves a mailbox task's name to its row id.
func (s *Store) TaskID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM mailbox_task WHERE name = $1`, name).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	return id, err == nil, err
}

// InsertMailboxRecords batch-inserts opaque JSON records against taskID,
// mirroring the original's UNNEST-based FidTaskQueue insert.
func (s *Store) InsertMailboxRecords(ctx context.Context, taskID int64, records [][]byte) error {
	if len(records) == 0 {
		return nil
	}
	taskIDs := make([]int64, len(records))
	data := make([]string, len(records))
	for i, r := range records {
		taskIDs[i] = taskID
		data[i] = string(r)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_record (task_id, data)
		SELECT task_id, data::jsonb
		FROM UNNEST($1::bigint[], $2::text[]) AS t(task_id, data)
	`, taskIDs, data)
	return err
}

// IncrementTaskTotal adds n to taskID's running record count.
func (s *Store) IncrementTaskTotal(ctx context.Context, taskID int64, n int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE mailbox_task SET records_total = records_total + $1 WHERE id = $2`, n, taskID)
	return err
}

// AllTargets returns every stored target row, grouped by kind and state
// by pkg/metrics' collector to populate the target-count gauges.
func (s *Store) AllTargets(ctx context.Context) ([]types.Target, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, uuid, kind, state, mount_path, dev_path, fs_type, filesystems FROM target`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Target
	for rows.Next() {
		var t types.Target
		if err := rows.Scan(&t.Name, &t.UUID, &t.Kind, &t.State, &t.MountPath, &t.DevPath, &t.FsType, &t.Filesystems); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveAlertCount returns the number of currently active alert_state
// rows, regardless of kind.
func (s *Store) ActiveAlertCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM alert_state WHERE active`).Scan(&n)
	return n, err
}

// --- C7 snapshot cadence/retention policy (driven by pkg/reconciler) ---

// FilesystemNames returns every known filesystem name, polled once per
// reconcile tick to iterate cadence and retention policies.
func (s *Store) FilesystemNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM filesystem ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SnapshotInterval returns fsname's cadence policy, if one is configured.
func (s *Store) SnapshotInterval(ctx context.Context, fsname string) (*types.SnapshotInterval, bool, error) {
	var iv types.SnapshotInterval
	var intervalSeconds int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, filesystem_name, use_barrier, interval_seconds, last_run
		FROM snapshot_interval WHERE filesystem_name = $1
	`, fsname).Scan(&iv.ID, &iv.FilesystemName, &iv.UseBarrier, &intervalSeconds, &iv.LastRun)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	iv.Interval = time.Duration(intervalSeconds) * time.Second
	return &iv, true, nil
}

// UpdateIntervalLastRun records that id's cadence fired at when.
func (s *Store) UpdateIntervalLastRun(ctx context.Context, id int64, when time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE snapshot_interval SET last_run = $1 WHERE id = $2`, when, id)
	return err
}

// SnapshotRetention returns fsname's retention policy, if one is configured.
func (s *Store) SnapshotRetention(ctx context.Context, fsname string) (*types.SnapshotRetention, bool, error) {
	var r types.SnapshotRetention
	err := s.pool.QueryRow(ctx, `
		SELECT id, filesystem_name, reserve_value, reserve_unit, keep_num, last_run
		FROM snapshot_retention WHERE filesystem_name = $1
	`, fsname).Scan(&r.ID, &r.FilesystemName, &r.ReserveValue, &r.ReserveUnit, &r.KeepNum, &r.LastRun)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

// UpdateRetentionLastRun records that id's retention sweep ran at when.
func (s *Store) UpdateRetentionLastRun(ctx context.Context, id int64, when time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE snapshot_retention SET last_run = $1 WHERE id = $2`, when, id)
	return err
}

// SetSnapshotInterval upserts fsname's cadence policy, used by the
// operator CLI to declare or change a schedule; last_run is left
// untouched on an existing row so a policy edit doesn't re-fire
// immediately.
func (s *Store) SetSnapshotInterval(ctx context.Context, fsname string, useBarrier bool, interval time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshot_interval (filesystem_name, use_barrier, interval_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (filesystem_name) DO UPDATE
		SET use_barrier = EXCLUDED.use_barrier, interval_seconds = EXCLUDED.interval_seconds
	`, fsname, useBarrier, int64(interval.Seconds()))
	return err
}

// SetSnapshotRetention upserts fsname's reserve-space and keep-count
// policy, used by the operator CLI.
func (s *Store) SetSnapshotRetention(ctx context.Context, fsname string, unit types.ReserveUnit, value float64, keepNum int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshot_retention (filesystem_name, reserve_unit, reserve_value, keep_num)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (filesystem_name) DO UPDATE
		SET reserve_unit = EXCLUDED.reserve_unit, reserve_value = EXCLUDED.reserve_value, keep_num = EXCLUDED.keep_num
	`, fsname, unit, value, keepNum)
	return err
}

// FilesystemCapacity returns fsname's most recently sampled total/free
// byte counts, reported by the agent's capacity plugin and upserted onto
// the filesystem row.
func (s *Store) FilesystemCapacity(ctx context.Context, fsname string) (totalBytes, freeBytes uint64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT coalesce(total_bytes, 0), coalesce(free_bytes, 0) FROM filesystem WHERE name = $1
	`, fsname).Scan(&totalBytes, &freeBytes)
	return totalBytes, freeBytes, err
}
