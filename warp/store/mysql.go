package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/git-warp/warp"
	_ "github.com/go-sql-driver/mysql"
)

// MySQL is a MySQL/MariaDB implementation of Port, grounded in the
// teacher's MySQLStore[S] (graph/store/mysql.go): pooled connections
// tuned for a production, multi-writer deployment, auto-migration on
// first use. Where SQLite targets single-process development, MySQL
// targets a distributed deployment with several writers sharing one
// object store.
//
// Designed for:
//   - Production deployments with multiple concurrent writers
//   - Long-lived graphs that outlive any single process
//   - Environments that already operate MySQL for other services
type MySQL struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQL opens a MySQL-backed store using dsn, in the
// go-sql-driver/mysql DSN format:
//
//	user:password@tcp(host:3306)/dbname?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment the way
// the teacher's own NewMySQLStore documents.
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQL{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQL) createTables(ctx context.Context) error {
	objectsTable := `
		CREATE TABLE IF NOT EXISTS warp_objects (
			oid VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			data LONGBLOB NOT NULL,
			message TEXT,
			parents TEXT,
			INDEX idx_objects_kind (kind)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, objectsTable); err != nil {
		return fmt.Errorf("failed to create warp_objects table: %w", err)
	}

	refsTable := `
		CREATE TABLE IF NOT EXISTS warp_refs (
			name VARCHAR(512) PRIMARY KEY,
			oid VARCHAR(64) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, refsTable); err != nil {
		return fmt.Errorf("failed to create warp_refs table: %w", err)
	}

	treeEntriesTable := `
		CREATE TABLE IF NOT EXISTS warp_tree_entries (
			tree_oid VARCHAR(64) NOT NULL,
			path VARCHAR(1024) NOT NULL,
			entry_oid VARCHAR(64) NOT NULL,
			PRIMARY KEY (tree_oid, path(255)),
			INDEX idx_tree_entries_tree (tree_oid)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, treeEntriesTable); err != nil {
		return fmt.Errorf("failed to create warp_tree_entries table: %w", err)
	}

	return nil
}

func (m *MySQL) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func (m *MySQL) WriteBlob(ctx context.Context, data []byte) (warp.OID, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	oid := hashBytes(data)
	query := `
		INSERT INTO warp_objects (oid, kind, data)
		VALUES (?, 'blob', ?)
		ON DUPLICATE KEY UPDATE oid = oid
	`
	if _, err := m.db.ExecContext(ctx, query, string(oid), data); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return oid, nil
}

func (m *MySQL) ReadBlob(ctx context.Context, oid warp.OID) ([]byte, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	var kind string
	var data []byte
	query := `SELECT kind, data FROM warp_objects WHERE oid = ?`
	err := m.db.QueryRowContext(ctx, query, string(oid)).Scan(&kind, &data)
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

func (m *MySQL) WriteTree(ctx context.Context, entries []TreeEntry) (warp.OID, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	oid := hashTree(sorted)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin tree transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO warp_objects (oid, kind, data) VALUES (?, 'tree', '') ON DUPLICATE KEY UPDATE oid = oid`,
		string(oid)); err != nil {
		return "", fmt.Errorf("failed to write tree object: %w", err)
	}
	for _, e := range sorted {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO warp_tree_entries (tree_oid, path, entry_oid) VALUES (?, ?, ?)
			 ON DUPLICATE KEY UPDATE entry_oid = VALUES(entry_oid)`,
			string(oid), e.Path, string(e.OID)); err != nil {
			return "", fmt.Errorf("failed to write tree entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit tree transaction: %w", err)
	}
	return oid, nil
}

func (m *MySQL) ReadTreeOids(ctx context.Context, oid warp.OID) (map[string]warp.OID, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if oid == emptyTreeOID {
		return map[string]warp.OID{}, nil
	}

	var kind string
	if err := m.db.QueryRowContext(ctx, `SELECT kind FROM warp_objects WHERE oid = ?`, string(oid)).Scan(&kind); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up tree: %w", err)
	}
	if kind != "tree" {
		return nil, ErrNotFound
	}

	rows, err := m.db.QueryContext(ctx, `SELECT path, entry_oid FROM warp_tree_entries WHERE tree_oid = ?`, string(oid))
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

func (m *MySQL) CommitNodeWithTree(ctx context.Context, treeOid warp.OID, parents []warp.OID, message string) (warp.OID, error) {
	if err := m.checkOpen(); err != nil {
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
		ON DUPLICATE KEY UPDATE oid = oid
	`
	if _, err := m.db.ExecContext(ctx, query, string(oid), string(treeOid), message, strings.Join(parentStrs, ",")); err != nil {
		return "", fmt.Errorf("failed to write commit: %w", err)
	}
	return oid, nil
}

func (m *MySQL) CommitNode(ctx context.Context, message string, parents []warp.OID) (warp.OID, error) {
	return m.CommitNodeWithTree(ctx, emptyTreeOID, parents, message)
}

func (m *MySQL) ReadRef(ctx context.Context, name string) (warp.OID, bool, error) {
	if err := m.checkOpen(); err != nil {
		return "", false, err
	}
	var oid string
	err := m.db.QueryRowContext(ctx, `SELECT oid FROM warp_refs WHERE name = ?`, name).Scan(&oid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read ref: %w", err)
	}
	return warp.OID(oid), true, nil
}

func (m *MySQL) UpdateRef(ctx context.Context, name string, oid warp.OID) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	query := `
		INSERT INTO warp_refs (name, oid) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE oid = VALUES(oid)
	`
	if _, err := m.db.ExecContext(ctx, query, name, string(oid)); err != nil {
		return fmt.Errorf("failed to update ref: %w", err)
	}
	return nil
}

func (m *MySQL) GetNodeInfo(ctx context.Context, oid warp.OID) (NodeInfo, error) {
	if err := m.checkOpen(); err != nil {
		return NodeInfo{}, err
	}
	var kind, message, parents string
	var treeData []byte
	query := `SELECT kind, data, message, parents FROM warp_objects WHERE oid = ?`
	err := m.db.QueryRowContext(ctx, query, string(oid)).Scan(&kind, &treeData, &message, &parents)
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

func (m *MySQL) IsAncestor(ctx context.Context, a, b warp.OID) (bool, error) {
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
		info, err := m.GetNodeInfo(ctx, cur)
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

// Close releases the underlying connection pool. Safe to call more than once.
func (m *MySQL) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
