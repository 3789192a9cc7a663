package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"remem/internal/logging"
)

// LocalStore implements Backend on SQLite. Each record is one row with its
// embedding stored as a float32 blob and metadata as JSON. ANN queries use
// the sqlite-vec distance function when the extension is available and fall
// back to an in-process cosine scan otherwise.
type LocalStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec distance function available
}

// NewLocalStore initializes the SQLite database at the given path.
// Use ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected; SQL-side ANN enabled")
	} else {
		logging.StoreDebug("sqlite-vec not available; using in-process cosine scan")
	}

	logging.Store("LocalStore initialization complete")
	return s, nil
}

// initialize creates the required tables and indexes.
func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		embedding BLOB,
		metadata TEXT NOT NULL,
		domain TEXT,
		outcome TEXT,
		has_error INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_workspace ON records(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at);
	CREATE INDEX IF NOT EXISTS idx_records_domain ON records(domain);
	CREATE INDEX IF NOT EXISTS idx_records_outcome ON records(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// detectVecExtension probes for the sqlite-vec distance function.
func (s *LocalStore) detectVecExtension() {
	var one float64
	err := s.db.QueryRow(
		"SELECT vec_distance_cosine(?, ?)",
		encodeVector([]float32{1, 0}), encodeVector([]float32{0, 1}),
	).Scan(&one)
	s.vectorExt = err == nil
}

// Upsert inserts or replaces records as one transaction.
func (s *LocalStore) Upsert(ctx context.Context, records []Record) error {
	timer := logging.StartTimer(logging.CategoryStore, "Upsert")
	defer timer.Stop()

	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO records
		(id, kind, workspace_id, embedding, metadata, domain, outcome, has_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" || r.WorkspaceID == "" {
			return fmt.Errorf("record requires id and workspace_id")
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		domain, _ := r.Metadata["domain"].(string)
		outcome, _ := r.Metadata["outcome"].(string)
		hasErr := 0
		if v, ok := r.Metadata["error_context"]; ok && v != nil {
			hasErr = 1
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Kind, r.WorkspaceID, encodeVector(r.Embedding), string(metaJSON),
			domain, outcome, hasErr, created.UTC(),
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	logging.StoreDebug("Upserted %d records", len(records))
	return nil
}

// buildWhere translates a Filter into a SQL predicate.
func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.WorkspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, f.WorkspaceID)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.HasErrorContext != nil {
		if *f.HasErrorContext {
			conds = append(conds, "has_error = 1")
		} else {
			conds = append(conds, "has_error = 0")
		}
	}
	if !f.Before.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.Before.UTC())
	}
	if !f.After.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.After.UTC())
	}
	if len(f.IDs) > 0 {
		ph := strings.TrimRight(strings.Repeat("?,", len(f.IDs)), ",")
		conds = append(conds, "id IN ("+ph+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	if len(conds) == 0 {
		return "1=1", nil
	}
	return strings.Join(conds, " AND "), args
}

// ANNQuery returns the k nearest records by cosine distance.
func (s *LocalStore) ANNQuery(ctx context.Context, embedding []float32, k int, filter Filter) ([]ANNResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ANNQuery")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildWhere(filter)

	if s.vectorExt {
		query := fmt.Sprintf(`
			SELECT id, metadata, vec_distance_cosine(embedding, ?) AS dist
			FROM records
			WHERE %s AND embedding IS NOT NULL
			ORDER BY dist ASC
			LIMIT ?`, where)
		qargs := append([]interface{}{encodeVector(embedding)}, args...)
		qargs = append(qargs, k)
		return s.scanANNRows(ctx, query, qargs)
	}

	// In-process scan: fetch filtered rows, score, sort.
	query := fmt.Sprintf(
		"SELECT id, metadata, embedding FROM records WHERE %s AND embedding IS NOT NULL", where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ann query: %w", err)
	}
	defer rows.Close()

	var results []ANNResult
	for rows.Next() {
		var id, metaJSON string
		var blob []byte
		if err := rows.Scan(&id, &metaJSON, &blob); err != nil {
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping record %s: %v", id, err)
			continue
		}
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		results = append(results, ANNResult{
			ID:       id,
			Distance: cosineDistance(embedding, vec),
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ann scan: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}

	logging.StoreDebug("ANNQuery returned %d results", len(results))
	return results, nil
}

func (s *LocalStore) scanANNRows(ctx context.Context, query string, args []interface{}) ([]ANNResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ann query: %w", err)
	}
	defer rows.Close()

	var results []ANNResult
	for rows.Next() {
		var id, metaJSON string
		var dist float64
		if err := rows.Scan(&id, &metaJSON, &dist); err != nil {
			continue
		}
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		results = append(results, ANNResult{ID: id, Distance: dist, Metadata: meta})
	}
	return results, rows.Err()
}

// Scan returns all records matching the filter.
func (s *LocalStore) Scan(ctx context.Context, filter Filter) ([]Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Scan")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildWhere(filter)
	query := fmt.Sprintf(`
		SELECT id, kind, workspace_id, embedding, metadata, created_at
		FROM records WHERE %s ORDER BY created_at ASC`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		var metaJSON string
		if err := rows.Scan(&r.ID, &r.Kind, &r.WorkspaceID, &blob, &metaJSON, &r.CreatedAt); err != nil {
			continue
		}
		vec, decErr := decodeVector(blob)
		if decErr != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping record %s: %v", r.ID, decErr)
			continue
		}
		r.Embedding = vec
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes matching records, returning the count removed.
func (s *LocalStore) Delete(ctx context.Context, filter Filter) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Delete")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := buildWhere(filter)
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.StoreDebug("Deleted %d records", n)
	return int(n), nil
}

// Count returns the number of matching records.
func (s *LocalStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
