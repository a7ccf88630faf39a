package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/git-warp/warp"
	_ "modernc.org/sqlite"
)

// SQLite is a SQLite implementation of Port, grounded in the teacher's
// SQLiteStore[S] (graph/store/sqlite.go): single-file database, WAL mode
// for concurrent reads, busy_timeout for lock contention, auto-migration
// on first use. Here the schema holds content-addressed objects and refs
// instead of workflow steps and checkpoints.
//
// Designed for:
//   - Development and testing with zero setup
//   - Single-process writers
//   - Local persistence before migrating to a distributed store
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLite opens (creating if necessary) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral in-process database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite) createTables(ctx context.Context) error {
	objectsTable := `
		CREATE TABLE IF NOT EXISTS warp_objects (
			oid TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			data BLOB NOT NULL,
			message TEXT,
			parents TEXT
		)
	`
	if _, err := s.db.ExecContext(ctx, objectsTable); err != nil {
		return fmt.Errorf("failed to create warp_objects table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_objects_kind ON warp_objects(kind)"); err != nil {
		return fmt.Errorf("failed to create idx_objects_kind: %w", err)
	}

	refsTable := `
		CREATE TABLE IF NOT EXISTS warp_refs (
			name TEXT PRIMARY KEY,
			oid TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, refsTable); err != nil {
		return fmt.Errorf("failed to create warp_refs table: %w", err)
	}

	treeEntriesTable := `
		CREATE TABLE IF NOT EXISTS warp_tree_entries (
			tree_oid TEXT NOT NULL,
			path TEXT NOT NULL,
			entry_oid TEXT NOT NULL,
			PRIMARY KEY (tree_oid, path)
		)
	`
	if _, err := s.db.ExecContext(ctx, treeEntriesTable); err != nil {
		return fmt.Errorf("failed to create warp_tree_entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_tree_entries_tree ON warp_tree_entries(tree_oid)"); err != nil {
		return fmt.Errorf("failed to create idx_tree_entries_tree: %w", err)
	}

	return nil
}

func (s *SQLite) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func (s *SQLite) WriteBlob(ctx context.Context, data []byte) (warp.OID, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	oid := hashBytes(data)
	query := `
		INSERT INTO warp_objects (oid, kind, data)
		VALUES (?, 'blob', ?)
		ON CONFLICT(oid) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, string(oid), data); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return oid, nil
}

func (s *SQLite) ReadBlob(ctx context.Context, oid warp.OID) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var kind string
	var data []byte
	query := `SELECT kind, data FROM warp_objects WHERE oid = ?`
	err := s.db.QueryRowContext(ctx, query, string(oid)).Scan(&kind, &data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if kind != "blob" {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *SQLite) WriteTree(ctx context.Context, entries []TreeEntry) (warp.OID, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	oid := hashTree(sorted)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin tree transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO warp_objects (oid, kind, data) VALUES (?, 'tree', '') ON CONFLICT(oid) DO NOTHING`,
		string(oid)); err != nil {
		return "", fmt.Errorf("failed to write tree object: %w", err)
	}
	for _, e := range sorted {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO warp_tree_entries (tree_oid, path, entry_oid) VALUES (?, ?, ?)
			 ON CONFLICT(tree_oid, path) DO UPDATE SET entry_oid = excluded.entry_oid`,
			string(oid), e.Path, string(e.OID)); err != nil {
			return "", fmt.Errorf("failed to write tree entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit tree transaction: %w", err)
	}
	return oid, nil
}

func (s *SQLite) ReadTreeOids(ctx context.Context, oid warp.OID) (map[string]warp.OID, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if oid == emptyTreeOID {
		return map[string]warp.OID{}, nil
	}

	var kind string
	if err := s.db.QueryRowContext(ctx, `SELECT kind FROM warp_objects WHERE oid = ?`, string(oid)).Scan(&kind); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up tree: %w", err)
	}
	if kind != "tree" {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, entry_oid FROM warp_tree_entries WHERE tree_oid = ?`, string(oid))
	if err != nil {
		return nil, fmt.Errorf("failed to read tree entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]warp.OID)
	for rows.Next() {
		var path, entryOid string
		if err := rows.Scan(&path, &entryOid); err != nil {
			return nil, fmt.Errorf("failed to scan tree entry: %w", err)
		}
		out[path] = warp.OID(entryOid)
	}
	return out, rows.Err()
}

func (s *SQLite) CommitNodeWithTree(ctx context.Context, treeOid warp.OID, parents []warp.OID, message string) (warp.OID, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	oid := hashCommit(treeOid, parents, message)
	parentStrs := make([]string, len(parents))
	for i, p := range parents {
		parentStrs[i] = string(p)
	}
	query := `
		INSERT INTO warp_objects (oid, kind, data, message, parents)
		VALUES (?, 'commit', ?, ?, ?)
		ON CONFLICT(oid) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, string(oid), string(treeOid), message, strings.Join(parentStrs, ",")); err != nil {
		return "", fmt.Errorf("failed to write commit: %w", err)
	}
	return oid, nil
}

func (s *SQLite) CommitNode(ctx context.Context, message string, parents []warp.OID) (warp.OID, error) {
	return s.CommitNodeWithTree(ctx, emptyTreeOID, parents, message)
}

func (s *SQLite) ReadRef(ctx context.Context, name string) (warp.OID, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}
	var oid string
	err := s.db.QueryRowContext(ctx, `SELECT oid FROM warp_refs WHERE name = ?`, name).Scan(&oid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read ref: %w", err)
	}
	return warp.OID(oid), true, nil
}

func (s *SQLite) UpdateRef(ctx context.Context, name string, oid warp.OID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO warp_refs (name, oid) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET oid = excluded.oid
	`
	if _, err := s.db.ExecContext(ctx, query, name, string(oid)); err != nil {
		return fmt.Errorf("failed to update ref: %w", err)
	}
	return nil
}

func (s *SQLite) GetNodeInfo(ctx context.Context, oid warp.OID) (NodeInfo, error) {
	if err := s.checkOpen(); err != nil {
		return NodeInfo{}, err
	}
	var kind, message, parents string
	var treeData []byte
	query := `SELECT kind, data, message, parents FROM warp_objects WHERE oid = ?`
	err := s.db.QueryRowContext(ctx, query, string(oid)).Scan(&kind, &treeData, &message, &parents)
	if err == sql.ErrNoRows {
		return NodeInfo{}, ErrNotFound
	}
	if err != nil {
		return NodeInfo{}, fmt.Errorf("failed to read node info: %w", err)
	}
	if kind != "commit" {
		return NodeInfo{}, ErrNotFound
	}
	info := NodeInfo{Message: message, TreeOid: warp.OID(treeData)}
	if parents != "" {
		for _, p := range strings.Split(parents, ",") {
			info.Parents = append(info.Parents, warp.OID(p))
		}
	}
	return info, nil
}

func (s *SQLite) IsAncestor(ctx context.Context, a, b warp.OID) (bool, error) {
	if a == b {
		return true, nil
	}
	visited := make(map[warp.OID]struct{})
	queue := []warp.OID{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		info, err := s.GetNodeInfo(ctx, cur)
		if err != nil {
			continue
		}
		for _, p := range info.Parents {
			if p == a {
				return true, nil
			}
			queue = append(queue, p)
		}
	}
	return false, nil
}

// Close releases the underlying database handle. Safe to call more than once.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path this store was opened with.
func (s *SQLite) Path() string {
	return s.path
}
