// Package sqlite is an embedded graph store on a single SQLite file. Every
// batch is written inside one database transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Name is the backend name reported in logs and metrics.
const Name = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	labels     TEXT NOT NULL,
	properties TEXT NOT NULL,
	key_label  TEXT,
	key_value  TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_key ON nodes(key_label, key_value)
	WHERE key_label IS NOT NULL;

CREATE TABLE IF NOT EXISTS edges (
	from_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	to_id   INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	type    TEXT NOT NULL,
	ordinal INTEGER
);

CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);
`

// Config locates the database file.
type Config struct {
	// Path of the database file. ":memory:" keeps everything in process.
	Path        string
	BusyTimeout time.Duration
}

// Store persists batches to SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, appErrors.NewValidationError("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// An in-memory database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", cfg.Path))
	return &Store{db: db, logger: logger.Named("sqlite")}, nil
}

// Name implements gateway.Backend.
func (s *Store) Name() string {
	return Name
}

// Apply implements gateway.Backend.
func (s *Store) Apply(ctx context.Context, batch graph.Batch) (ids map[graph.Identifier]graph.Identifier, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	rowIDs := make(map[graph.Identifier]int64, len(batch.Nodes))
	for _, n := range batch.Nodes {
		id, err := s.writeNode(ctx, tx, n)
		if err != nil {
			return nil, err
		}
		rowIDs[n.ID] = id
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (from_id, to_id, type, ordinal) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, classify("prepare edges", err)
	}
	defer stmt.Close()

	for _, e := range batch.Edges {
		var ordinal sql.NullInt64
		if e.Ordinal != nil {
			ordinal = sql.NullInt64{Int64: int64(*e.Ordinal), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, rowIDs[e.From], rowIDs[e.To], e.Type, ordinal); err != nil {
			return nil, classify("insert edge", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit", err)
	}

	ids = make(map[graph.Identifier]graph.Identifier, len(rowIDs))
	for placeholder, id := range rowIDs {
		ids[placeholder] = graph.Identifier(strconv.FormatInt(id, 10))
	}
	return ids, nil
}

func (s *Store) writeNode(ctx context.Context, tx *sql.Tx, n graph.Node) (int64, error) {
	labels, err := json.Marshal(n.Labels)
	if err != nil {
		return 0, appErrors.NewStoreError("encode labels", err)
	}
	props, err := json.Marshal(n.Properties)
	if err != nil {
		return 0, appErrors.NewStoreError("encode properties", err)
	}

	if n.Key != nil {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM nodes WHERE key_label = ? AND key_value = ?`,
			n.Key.Label, n.Key.Value).Scan(&existing)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE nodes SET labels = ?, properties = ? WHERE id = ?`,
				string(labels), string(props), existing); err != nil {
				return 0, classify("update node", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE from_id = ?`, existing); err != nil {
				return 0, classify("delete edges", err)
			}
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, classify("find node", err)
		}
	}

	var keyLabel, keyValue sql.NullString
	if n.Key != nil {
		keyLabel = sql.NullString{String: n.Key.Label, Valid: true}
		keyValue = sql.NullString{String: n.Key.Value, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (labels, properties, key_label, key_value) VALUES (?, ?, ?, ?)`,
		string(labels), string(props), keyLabel, keyValue)
	if err != nil {
		return 0, classify("insert node", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert node", err)
	}
	return id, nil
}

// DeleteAll implements gateway.Backend. AUTOINCREMENT keeps identifiers from
// being reused afterwards.
func (s *Store) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return classify("delete edges", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return classify("delete nodes", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// FindByKey implements gateway.Backend.
func (s *Store) FindByKey(ctx context.Context, key graph.BusinessKey) (graph.Identifier, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM nodes WHERE key_label = ? AND key_value = ?`,
		key.Label, key.Value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.NoIdentifier, false, nil
	}
	if err != nil {
		return graph.NoIdentifier, false, classify("find by key", err)
	}
	return graph.Identifier(strconv.FormatInt(id, 10)), true, nil
}

// Ping implements gateway.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close implements gateway.Backend.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Counts returns the number of stored nodes and edges.
func (s *Store) Counts(ctx context.Context) (nodes, edges int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM edges)`).Scan(&nodes, &edges)
	return nodes, edges, err
}

// classify marks lock contention as retryable. Everything else is a
// permanent store error.
func classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return appErrors.NewTransientStoreError(operation, err)
		}
	}
	return appErrors.NewStoreError(operation, err)
}
