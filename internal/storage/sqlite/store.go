package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const eventCacheSize = 1024

// Store keeps one resource's state in its own SQLite database.
type Store struct {
	db     *sql.DB
	id     types.ResourceID
	dbPath string

	// mu serializes writers on the resource; SQLite's own locking alone
	// would let two read-modify-write cycles interleave.
	mu sync.RWMutex
	// evMu serializes appends to the audit chain.
	evMu   sync.Mutex
	events *lru.Cache[string, events.Record]
}

// OpenStore opens or creates the database of resource id under basePath.
func OpenStore(basePath string, id types.ResourceID) (*Store, error) {
	if _, err := types.ParseResourceID(string(id)); err != nil {
		return nil, err
	}
	dir := filepath.Join(basePath, "resources", string(id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create resource directory: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(FULL)"+ // Committed approvals and executions must survive power loss
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	cache, err := lru.New[string, events.Record](eventCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create event cache: %w", err)
	}

	return &Store{
		db:     db,
		id:     id,
		dbPath: dbPath,
		events: cache,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ResourceID() types.ResourceID {
	return s.id
}

func (s *Store) DBPath() string {
	return s.dbPath
}

// Update runs fn in a write transaction.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, false, fn)
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// database/sql rolls a transaction back when its context ends, which
	// would discard the work of an fn that already succeeded.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqlTx{tx: tx, id: s.id, readOnly: readOnly}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if readOnly {
		return tx.Rollback()
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendEvent seals e after the current chain head and stores it.
func (s *Store) AppendEvent(ctx context.Context, e events.Event) (events.Record, error) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	var (
		seq  uint64
		prev string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, cid FROM events ORDER BY seq DESC LIMIT 1`).Scan(&seq, &prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		seq, prev = 0, ""
	case err != nil:
		return events.Record{}, fmt.Errorf("read chain head: %w", err)
	default:
		seq++
	}

	rec, body, err := events.Seal(seq, prev, e)
	if err != nil {
		return events.Record{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (seq, cid, prev_cid, type, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int64(rec.Seq), rec.CID, rec.Prev, string(e.Type), body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return events.Record{}, fmt.Errorf("insert event: %w", err)
	}
	s.events.Add(rec.CID, rec)
	return rec, nil
}

// Events lists audit records with seq >= from.
func (s *Store) Events(ctx context.Context, from uint64, limit int) ([]events.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid, body FROM events WHERE seq >= ? ORDER BY seq LIMIT ?`,
		int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var (
			c    string
			body []byte
		)
		if err := rows.Scan(&c, &body); err != nil {
			return nil, err
		}
		rec, err := events.Open(c, body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EventByCID returns the audit record with the given CID.
func (s *Store) EventByCID(ctx context.Context, c string) (events.Record, error) {
	if rec, ok := s.events.Get(c); ok {
		return rec, nil
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM events WHERE cid = ?`, c).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return events.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return events.Record{}, err
	}
	rec, err := events.Open(c, body)
	if err != nil {
		return events.Record{}, err
	}
	s.events.Add(c, rec)
	return rec, nil
}

var _ storage.Store = (*Store)(nil)
