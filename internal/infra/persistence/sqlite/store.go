// Package sqlite provides a SQLite-backed persistent store. It reuses the
// in-memory implementation for transactional semantics and snapshots the full
// state to a single table as JSON blobs after every successful commit.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"govcore/internal/infra/persistence/memory"
	"govcore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	bucketActivities     = "activities"
	bucketAmendments     = "amendments"
	bucketAmendmentOrder = "amendment_order"
)

// Store persists the in-memory state to a single SQLite table as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "govcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{
		Objects:    make(map[domain.ObjectType]map[string]json.RawMessage),
		Activities: make(map[string][]domain.ActivityEntry),
		Amendments: make(map[string]domain.Amendment),
	}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		loaded = true
		switch bucket {
		case bucketActivities:
			if err := json.Unmarshal(payload, &snapshot.Activities); err != nil {
				return fmt.Errorf("decode activities: %w", err)
			}
		case bucketAmendments:
			if err := json.Unmarshal(payload, &snapshot.Amendments); err != nil {
				return fmt.Errorf("decode amendments: %w", err)
			}
		case bucketAmendmentOrder:
			if err := json.Unmarshal(payload, &snapshot.Order); err != nil {
				return fmt.Errorf("decode amendment order: %w", err)
			}
		default:
			t := domain.ObjectType(bucket)
			if _, ok := domain.NewObject(t); !ok {
				continue
			}
			var docs map[string]json.RawMessage
			if err := json.Unmarshal(payload, &docs); err != nil {
				return fmt.Errorf("decode %s: %w", bucket, err)
			}
			snapshot.Objects[t] = docs
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if !loaded {
		return nil
	}
	return s.ImportState(snapshot)
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.ExportState()
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	upsert := func(bucket string, value any) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
		return nil
	}
	for _, t := range domain.ObjectTypes() {
		docs := snapshot.Objects[t]
		if docs == nil {
			docs = map[string]json.RawMessage{}
		}
		if retErr = upsert(string(t), docs); retErr != nil {
			return retErr
		}
	}
	if retErr = upsert(bucketActivities, snapshot.Activities); retErr != nil {
		return retErr
	}
	if retErr = upsert(bucketAmendments, snapshot.Amendments); retErr != nil {
		return retErr
	}
	if retErr = upsert(bucketAmendmentOrder, snapshot.Order); retErr != nil {
		return retErr
	}
	if retErr = tx.Commit(); retErr != nil {
		return retErr
	}
	return nil
}

// RunInTransaction applies fn within a transaction, then snapshots state to
// SQLite when it commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
