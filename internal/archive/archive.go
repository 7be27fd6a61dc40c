// Package archive keeps a durable trail of applied run results. The state
// core itself is in-memory; the archive is where completed runs land so a
// playground session can be reconstructed or audited later.
package archive

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Record is one applied result. TargetID is the input row or chat turn the
// result was written to.
type Record struct {
	RunID      string    `json:"runId"`
	TargetID   string    `json:"targetId"`
	RevisionID string    `json:"revisionId"`
	ResultHash string    `json:"resultHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store archives records in Postgres when a DSN is configured and falls back
// to a bounded in-memory log otherwise. Payload bytes go to the object store
// when one is attached, inline into the row when not.
type Store struct {
	db      *sql.DB
	objects *ObjectStore

	schemaOnce sync.Once
	schemaErr  error

	mu      sync.RWMutex
	byRun   map[string][]Record
	inline  map[string][]byte
	runList *lru.Cache[string, []Record]
}

func New() *Store {
	return &Store{
		byRun:  make(map[string][]Record),
		inline: make(map[string][]byte),
	}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, []Record](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, runList: cache}, nil
}

// NewFromEnv selects the backend from ARCHIVE_PG_DSN and attaches object
// storage when the S3 variables are present.
func NewFromEnv() *Store {
	var s *Store
	dsn := strings.TrimSpace(os.Getenv("ARCHIVE_PG_DSN"))
	if dsn != "" {
		if pg, err := NewPostgres(dsn); err == nil {
			s = pg
		}
	}
	if s == nil {
		s = New()
	}
	if objects, err := NewObjectStoreFromEnv(); err == nil && objects != nil {
		s.objects = objects
	}
	return s
}

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS run_records (
  id SERIAL PRIMARY KEY,
  run_id TEXT NOT NULL,
  target_id TEXT NOT NULL,
  revision_id TEXT NOT NULL,
  result_hash TEXT NOT NULL,
  payload BYTEA,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  UNIQUE (run_id, target_id, revision_id)
);
CREATE INDEX IF NOT EXISTS idx_run_records_run_id ON run_records (run_id);
CREATE INDEX IF NOT EXISTS idx_run_records_hash ON run_records (result_hash);
`)
	})
	return s.schemaErr
}

// Save records an applied result. Duplicate saves for the same run, target
// and revision are absorbed.
func (s *Store) Save(ctx context.Context, rec Record, payload []byte) error {
	if s == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	inlinePayload := payload
	if s.objects != nil && len(payload) > 0 {
		if err := s.objects.Put(ctx, rec.RunID, rec.ResultHash, payload); err == nil {
			inlinePayload = nil
		}
	}
	if s.db != nil {
		if err := s.ensureSchema(); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO run_records (run_id, target_id, revision_id, result_hash, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id, target_id, revision_id) DO NOTHING`,
			rec.RunID, rec.TargetID, rec.RevisionID, rec.ResultHash, inlinePayload, rec.CreatedAt)
		if err == nil && s.runList != nil {
			s.runList.Remove(rec.RunID)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byRun[rec.RunID] {
		if existing.TargetID == rec.TargetID && existing.RevisionID == rec.RevisionID {
			return nil
		}
	}
	s.byRun[rec.RunID] = append(s.byRun[rec.RunID], rec)
	if len(inlinePayload) > 0 {
		s.inline[payloadKey(rec.RunID, rec.ResultHash)] = append([]byte(nil), inlinePayload...)
	}
	return nil
}

// ListByRun returns the archived records for a run, newest first.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, nil
	}
	if s.db == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		recs := s.byRun[runID]
		out := make([]Record, len(recs))
		for i, rec := range recs {
			out[len(recs)-1-i] = rec
		}
		return out, nil
	}
	if s.runList != nil {
		if cached, ok := s.runList.Get(runID); ok {
			return cached, nil
		}
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, target_id, revision_id, result_hash, created_at
FROM run_records WHERE run_id = $1 ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.RunID, &rec.TargetID, &rec.RevisionID, &rec.ResultHash, &rec.CreatedAt); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if s.runList != nil {
		s.runList.Add(runID, out)
	}
	return out, nil
}

// Payload fetches the archived result body, from object storage when the
// record was offloaded there.
func (s *Store) Payload(ctx context.Context, runID, resultHash string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	if s.objects != nil {
		if data, err := s.objects.Get(ctx, runID, resultHash); err == nil {
			return data, nil
		}
	}
	if s.db != nil {
		if err := s.ensureSchema(); err != nil {
			return nil, err
		}
		var data []byte
		err := s.db.QueryRowContext(ctx, `
SELECT payload FROM run_records
WHERE run_id = $1 AND result_hash = $2 AND payload IS NOT NULL
LIMIT 1`, runID, resultHash).Scan(&data)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.inline[payloadKey(runID, resultHash)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func payloadKey(runID, hash string) string {
	return runID + "/" + hash
}
