package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	verrors "github.com/Aman-CERP/attachview/internal/errors"
)

// SQLiteStore persists state and view rows in one SQLite database.
// It implements StateStore and ViewStore.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var (
	_ StateStore = (*SQLiteStore)(nil)
	_ ViewStore  = (*SQLiteStore)(nil)
)

// validateSQLiteIntegrity checks an existing database before opening it.
// Returns nil if the file does not exist yet.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the store at path.
// If path is empty, an in-memory database is used.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			// State can be rebuilt from the document store; a corrupt file is
			// reported rather than silently cleared.
			return nil, verrors.New(verrors.ErrCodeCorruptState, fmt.Sprintf("index database %s is unreadable", path), err).
				WithSuggestion("delete the file and replay the change feed with 'attachview apply'")
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Debug("sqlite_store_opened", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- One row per document ever indexed; refs may be empty.
	CREATE TABLE IF NOT EXISTS doc_state (
		doc_id     TEXT PRIMARY KEY,
		seq        INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS doc_refs (
		doc_id   TEXT NOT NULL,
		filename TEXT NOT NULL,
		length   INTEGER NOT NULL,
		PRIMARY KEY (doc_id, filename)
	) WITHOUT ROWID;

	-- Materialized view, keyed in collation order.
	CREATE TABLE IF NOT EXISTS view_rows (
		filename TEXT NOT NULL,
		length   INTEGER NOT NULL,
		doc_id   TEXT NOT NULL,
		value    INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (filename, length, doc_id)
	) WITHOUT ROWID;

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetState returns the stored state or nil.
func (s *SQLiteStore) GetState(ctx context.Context, documentID string) (*DocState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}

	var seq, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, updated_at FROM doc_state WHERE doc_id = ?`, documentID).Scan(&seq, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, verrors.StoreError("get state "+documentID, err)
	}

	refs, err := s.loadRefs(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocState{
		DocumentID: documentID,
		Seq:        seq,
		Refs:       refs,
		UpdatedAt:  time.Unix(0, updated).UTC(),
	}, nil
}

func (s *SQLiteStore) loadRefs(ctx context.Context, documentID string) ([]AttachmentRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, length FROM doc_refs WHERE doc_id = ? ORDER BY filename, length`, documentID)
	if err != nil {
		return nil, verrors.StoreError("load refs "+documentID, err)
	}
	defer rows.Close()

	var refs []AttachmentRef
	for rows.Next() {
		ref := AttachmentRef{DocumentID: documentID}
		if err := rows.Scan(&ref.Filename, &ref.Length); err != nil {
			return nil, verrors.StoreError("scan ref "+documentID, err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// PutState replaces a document's state in one transaction.
func (s *SQLiteStore) PutState(ctx context.Context, state *DocState) error {
	if state == nil || state.DocumentID == "" {
		return fmt.Errorf("put state: document id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return verrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO doc_state (doc_id, seq, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at`,
		state.DocumentID, state.Seq, state.UpdatedAt.UnixNano()); err != nil {
		return verrors.StoreError("save state "+state.DocumentID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_refs WHERE doc_id = ?`, state.DocumentID); err != nil {
		return verrors.StoreError("clear refs "+state.DocumentID, err)
	}

	if len(state.Refs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO doc_refs (doc_id, filename, length) VALUES (?, ?, ?)`)
		if err != nil {
			return verrors.StoreError("prepare ref insert", err)
		}
		defer stmt.Close()

		for _, ref := range state.Refs {
			if _, err := stmt.ExecContext(ctx, state.DocumentID, ref.Filename, ref.Length); err != nil {
				return verrors.StoreError("save ref "+ref.String(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return verrors.StoreError("commit state "+state.DocumentID, err)
	}
	return nil
}

// DeleteState removes a document's state and refs.
func (s *SQLiteStore) DeleteState(ctx context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, verrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM doc_state WHERE doc_id = ?`, documentID)
	if err != nil {
		return false, verrors.StoreError("delete state "+documentID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_refs WHERE doc_id = ?`, documentID); err != nil {
		return false, verrors.StoreError("delete refs "+documentID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, verrors.StoreError("commit delete "+documentID, err)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ForEachState visits states in document id order.
// States are read up front so fn may write back to the store.
func (s *SQLiteStore) ForEachState(ctx context.Context, fn func(*DocState) error) error {
	states, err := s.allStates(ctx)
	if err != nil {
		return err
	}
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) allStates(ctx context.Context) ([]*DocState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.doc_id, s.seq, s.updated_at, r.filename, r.length
		FROM doc_state s LEFT JOIN doc_refs r ON r.doc_id = s.doc_id
		ORDER BY s.doc_id, r.filename, r.length`)
	if err != nil {
		return nil, verrors.StoreError("list states", err)
	}
	defer rows.Close()

	var states []*DocState
	var cur *DocState
	for rows.Next() {
		var (
			id       string
			seq, upd int64
			filename sql.NullString
			length   sql.NullInt64
		)
		if err := rows.Scan(&id, &seq, &upd, &filename, &length); err != nil {
			return nil, verrors.StoreError("scan state", err)
		}
		if cur == nil || cur.DocumentID != id {
			cur = &DocState{DocumentID: id, Seq: seq, UpdatedAt: time.Unix(0, upd).UTC()}
			states = append(states, cur)
		}
		if filename.Valid {
			cur.Refs = append(cur.Refs, AttachmentRef{Filename: filename.String, Length: length.Int64, DocumentID: id})
		}
	}
	return states, rows.Err()
}

// Apply retracts and adds rows in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, delta *Delta) error {
	if delta.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return verrors.StoreError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(delta.Remove) > 0 {
		del, err := tx.PrepareContext(ctx,
			`DELETE FROM view_rows WHERE filename = ? AND length = ? AND doc_id = ?`)
		if err != nil {
			return verrors.StoreError("prepare row delete", err)
		}
		defer del.Close()

		for _, row := range delta.Remove {
			if _, err := del.ExecContext(ctx, row.Key.Filename, row.Key.Length, row.Key.DocumentID); err != nil {
				return verrors.StoreError("retract row "+row.Key.String(), err)
			}
		}
	}

	if len(delta.Add) > 0 {
		ins, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO view_rows (filename, length, doc_id, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return verrors.StoreError("prepare row insert", err)
		}
		defer ins.Close()

		for _, row := range delta.Add {
			if _, err := ins.ExecContext(ctx, row.Key.Filename, row.Key.Length, row.Key.DocumentID, row.Value); err != nil {
				return verrors.StoreError("add row "+row.Key.String(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return verrors.StoreError("commit delta "+delta.DocumentID, err)
	}
	return nil
}

// Scan visits rows in key order.
func (s *SQLiteStore) Scan(ctx context.Context, opts ScanOptions, fn func(IndexRow) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errClosed
	}

	query := `SELECT filename, length, doc_id, value FROM view_rows`
	var args []any
	if opts.Filename != "" {
		query += ` WHERE filename = ?`
		args = append(args, opts.Filename)
	}
	query += ` ORDER BY filename, length, doc_id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return verrors.StoreError("scan view", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row IndexRow
		if err := rows.Scan(&row.Key.Filename, &row.Key.Length, &row.Key.DocumentID, &row.Value); err != nil {
			return verrors.StoreError("scan row", err)
		}
		if !fn(row) {
			return nil
		}
	}
	return rows.Err()
}

// Count returns the number of view rows.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, errClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM view_rows`).Scan(&n); err != nil {
		return 0, verrors.StoreError("count rows", err)
	}
	return n, nil
}

// Path returns the database file path (empty for in-memory).
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
