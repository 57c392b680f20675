package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/whamcloud/lustre-fleet/pkg/log"
)

// MailboxStore is the persistence surface the mailbox task queue writes
// through, grounded on original_source/emf-mailbox's get_task_by_name /
// insert_lines / fids_total update, generalized from Lustre FIDs to an
// opaque JSON record per §SUPPLEMENTED FEATURES.
type MailboxStore interface {
	TaskID(ctx context.Context, name string) (int64, bool, error)
	InsertMailboxRecords(ctx context.Context, taskID int64, records [][]byte) error
	IncrementTaskTotal(ctx context.Context, taskID int64, n int64) error
}

// MailboxListener accepts newline-delimited JSON records on a Unix
// domain socket named "<task>.sock" under dir, batching each connection's
// lines into one insert against the named task, per §6's "per-mailbox
// UNIX-domain listeners" transport note.
type MailboxListener struct {
	store  MailboxStore
	dir    string
	logger zerolog.Logger
}

// NewMailboxListener constructs a listener that serves mailbox sockets
// under dir.
func NewMailboxListener(store MailboxStore, dir string) *MailboxListener {
	return &MailboxListener{store: store, dir: dir, logger: log.WithComponent("mailbox")}
}

// Serve listens on "<dir>/<taskName>.sock" until ctx is cancelled,
// handling each connection as a batch of newline-delimited JSON records
// forwarded to the named task.
func (m *MailboxListener) Serve(ctx context.Context, taskName string) error {
	sockPath := filepath.Join(m.dir, taskName+".sock")
	_ = os.Remove(sockPath)

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	m.logger.Info().Str("task", taskName).Str("socket", sockPath).Msg("mailbox listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go m.handle(ctx, taskName, conn)
	}
}

func (m *MailboxListener) handle(ctx context.Context, taskName string, conn net.Conn) {
	defer conn.Close()

	var records [][]byte
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			m.logger.Info().Str("task", taskName).Msg("unable to convert mailbox line, skipping")
			continue
		}
		records = append(records, append([]byte(nil), line...))
	}
	if len(records) == 0 {
		return
	}

	taskID, ok, err := m.store.TaskID(ctx, taskName)
	if err != nil {
		m.logger.Error().Err(err).Str("task", taskName).Msg("failed to resolve mailbox task")
		return
	}
	if !ok {
		m.logger.Error().Str("task", taskName).Msg("mailbox task not found")
		return
	}

	if err := m.store.InsertMailboxRecords(ctx, taskID, records); err != nil {
		m.logger.Error().Err(err).Str("task", taskName).Int("records", len(records)).Msg("failed to insert mailbox records")
		return
	}
	if err := m.store.IncrementTaskTotal(ctx, taskID, int64(len(records))); err != nil {
		m.logger.Error().Err(err).Str("task", taskName).Msg("failed to update mailbox task total")
	}
}
