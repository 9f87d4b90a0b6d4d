// Package ledger persists every tagging decision to a sqlite audit store.
// Two tables: runs (one row per pipeline execution, exactly one marked
// latest) and products (one row per run_id+handle, updated in place by
// escalation and human review, never deleted). The ledger is the single
// point of write serialization: workers classify in parallel but all writes
// funnel through one mutex.
package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shand-j/tagforge/internal/model"
)

// ErrRunNotFound is returned when a run id has no row in the runs table
var ErrRunNotFound = errors.New("run not found")

// Store is a sqlite-backed audit ledger
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the ledger database with WAL mode
// enabled
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// WAL lets the review CLI read while a run is writing
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	config TEXT,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	is_latest INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS products (
	run_id TEXT NOT NULL,
	handle TEXT NOT NULL,
	title TEXT,
	description TEXT,
	category TEXT,
	rule_tags TEXT,
	ai_tags TEXT,
	final_tags TEXT,
	secondary_flavors TEXT,
	failure_reasons TEXT,
	tier TEXT,
	ai_confidence REAL NOT NULL DEFAULT 0,
	model_used TEXT,
	human_verified INTEGER NOT NULL DEFAULT 0,
	human_corrected_tags TEXT,
	processed_at TEXT NOT NULL,
	PRIMARY KEY(run_id, handle),
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_products_tier ON products(run_id, tier);
CREATE INDEX IF NOT EXISTS idx_products_verified ON products(human_verified);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// StartRun records a new run, demoting any previous latest run. The config
// snapshot is stored verbatim for replay.
func (s *Store) StartRun(ctx context.Context, configSnapshot string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID, err := newRunID()
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET is_latest=0 WHERE is_latest=1`); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (run_id, config, status, started_at, is_latest)
VALUES (?, ?, ?, ?, 1);
`, runID, configSnapshot, string(model.RunRunning), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

func newRunID() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating run id: %w", err)
	}
	return fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), hex.EncodeToString(buf)), nil
}

// GetRunStatus returns the status of a run. Callers check this before
// deciding whether to resume or start fresh.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (model.RunStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", err
	}
	return model.RunStatus(status), nil
}

// CompleteRun marks a run completed
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status=?, completed_at=? WHERE run_id=?;
`, string(model.RunCompleted), time.Now().UTC().Format(time.RFC3339), runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetLatestRun returns the run currently marked latest
func (s *Store) GetLatestRun(ctx context.Context) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, config, status, started_at, completed_at, is_latest
FROM runs WHERE is_latest=1;
`)
	return scanRun(row)
}

// GetRun returns one run by id
func (s *Store) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, config, status, started_at, completed_at, is_latest
FROM runs WHERE run_id=?;
`, runID)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*model.PipelineRun, error) {
	var (
		run       model.PipelineRun
		status    string
		started   string
		completed sql.NullString
		latest    int
	)
	err := row.Scan(&run.RunID, &run.ConfigSnapshot, &status, &started, &completed, &latest)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	run.IsLatest = latest == 1
	if t, perr := time.Parse(time.RFC3339, started); perr == nil {
		run.StartedAt = t
	}
	if completed.Valid && completed.String != "" {
		if t, perr := time.Parse(time.RFC3339, completed.String); perr == nil {
			run.CompletedAt = &t
		}
	}
	return &run, nil
}

// SaveProduct upserts one product record for a run. Safe for concurrent
// callers; this is where worker results serialize.
func (s *Store) SaveProduct(ctx context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ruleTags, err := marshalTags(rec.RuleTags)
	if err != nil {
		return err
	}
	aiTags, err := marshalTags(rec.AITags)
	if err != nil {
		return err
	}
	finalTags, err := marshalTags(rec.FinalTags)
	if err != nil {
		return err
	}
	flavors, err := marshalTags(rec.SecondaryFlavors)
	if err != nil {
		return err
	}
	reasons, err := marshalTags(rec.FailureReasons)
	if err != nil {
		return err
	}

	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO products (
	run_id, handle, title, description, category,
	rule_tags, ai_tags, final_tags, secondary_flavors, failure_reasons,
	tier, ai_confidence, model_used, processed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, handle) DO UPDATE SET
	title=excluded.title,
	description=excluded.description,
	category=excluded.category,
	rule_tags=excluded.rule_tags,
	ai_tags=excluded.ai_tags,
	final_tags=excluded.final_tags,
	secondary_flavors=excluded.secondary_flavors,
	failure_reasons=excluded.failure_reasons,
	tier=excluded.tier,
	ai_confidence=excluded.ai_confidence,
	model_used=excluded.model_used,
	processed_at=excluded.processed_at;
`, rec.RunID, rec.Handle, rec.Title, rec.Description, rec.DetectedCategory,
		ruleTags, aiTags, finalTags, flavors, reasons,
		string(rec.Tier), rec.AIConfidence, rec.ModelUsed,
		processedAt.Format(time.RFC3339))
	return err
}

// ProcessedHandles returns the handles already recorded for a run. Resume
// skips these.
func (s *Store) ProcessedHandles(ctx context.Context, runID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle FROM products WHERE run_id=?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	handles := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		handles[h] = struct{}{}
	}
	return handles, rows.Err()
}

// Products returns every record of a run, ordered by handle
func (s *Store) Products(ctx context.Context, runID string) ([]model.AuditRecord, error) {
	return s.queryProducts(ctx, `
SELECT `+productColumns+`
FROM products WHERE run_id=? ORDER BY handle;
`, runID)
}

// ProductsByTier returns a run's records for one tier, ordered by handle
func (s *Store) ProductsByTier(ctx context.Context, runID string, tier model.Tier) ([]model.AuditRecord, error) {
	return s.queryProducts(ctx, `
SELECT `+productColumns+`
FROM products WHERE run_id=? AND tier=? ORDER BY handle;
`, runID, string(tier))
}

// Unverified returns records awaiting human review for a run, most
// uncertain first. A limit of 0 means no limit.
func (s *Store) Unverified(ctx context.Context, runID string, limit int) ([]model.AuditRecord, error) {
	q := `
SELECT ` + productColumns + `
FROM products
WHERE run_id=? AND human_verified=0 AND tier IN (?, ?)
ORDER BY ai_confidence ASC, handle`
	args := []interface{}{runID, string(model.TierReview), string(model.TierUntagged)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryProducts(ctx, q+";", args...)
}

// MarkVerified marks every record for a handle as human-verified
func (s *Store) MarkVerified(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE products SET human_verified=1 WHERE handle=?`, handle)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no records for handle %q", handle)
	}
	return nil
}

// UpdateCorrectedTags stores a human-corrected tag set for a handle and
// marks it verified
func (s *Store) UpdateCorrectedTags(ctx context.Context, handle string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	corrected, err := marshalTags(tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE products SET human_corrected_tags=?, human_verified=1 WHERE handle=?;
`, corrected, handle)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no records for handle %q", handle)
	}
	return nil
}

// RunStats summarizes one run for the stats output
type RunStats struct {
	Total         int                `json:"total"`
	ByTier        map[model.Tier]int `json:"by_tier"`
	Verified      int                `json:"verified"`
	Escalated     int                `json:"escalated"` // records with any AI tags
	AvgConfidence float64            `json:"avg_confidence"`
}

// Stats computes per-tier and verification counts for a run
func (s *Store) Stats(ctx context.Context, runID string) (*RunStats, error) {
	stats := &RunStats{ByTier: make(map[model.Tier]int)}

	rows, err := s.db.QueryContext(ctx, `
SELECT tier, COUNT(*) FROM products WHERE run_id=? GROUP BY tier;
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		stats.ByTier[model.Tier(tier)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM products WHERE run_id=? AND human_verified=1;
`, runID).Scan(&stats.Verified); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM products WHERE run_id=? AND ai_tags IS NOT NULL AND ai_tags != '' AND ai_tags != '[]';
`, runID).Scan(&stats.Escalated); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
SELECT AVG(ai_confidence) FROM products WHERE run_id=? AND ai_confidence > 0;
`, runID).Scan(&avg); err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgConfidence = avg.Float64
	}
	return stats, nil
}

const productColumns = `run_id, handle, title, description, category,
	rule_tags, ai_tags, final_tags, secondary_flavors, failure_reasons,
	tier, ai_confidence, model_used, human_verified, human_corrected_tags, processed_at`

func (s *Store) queryProducts(ctx context.Context, query string, args ...interface{}) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		rec, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanProduct(rows *sql.Rows) (model.AuditRecord, error) {
	var (
		rec       model.AuditRecord
		ruleTags  string
		aiTags    string
		finalTags string
		flavors   string
		reasons   string
		corrected sql.NullString
		tier      string
		verified  int
		processed string
	)
	err := rows.Scan(&rec.RunID, &rec.Handle, &rec.Title, &rec.Description, &rec.DetectedCategory,
		&ruleTags, &aiTags, &finalTags, &flavors, &reasons,
		&tier, &rec.AIConfidence, &rec.ModelUsed, &verified, &corrected, &processed)
	if err != nil {
		return rec, err
	}

	rec.Tier = model.Tier(tier)
	rec.HumanVerified = verified == 1
	if rec.RuleTags, err = unmarshalTags(ruleTags); err != nil {
		return rec, err
	}
	if rec.AITags, err = unmarshalTags(aiTags); err != nil {
		return rec, err
	}
	if rec.FinalTags, err = unmarshalTags(finalTags); err != nil {
		return rec, err
	}
	if rec.SecondaryFlavors, err = unmarshalTags(flavors); err != nil {
		return rec, err
	}
	if rec.FailureReasons, err = unmarshalTags(reasons); err != nil {
		return rec, err
	}
	if rec.HumanCorrectedTags, err = unmarshalTags(corrected.String); err != nil {
		return rec, err
	}
	if t, perr := time.Parse(time.RFC3339, processed); perr == nil {
		rec.ProcessedAt = t
	}
	return rec, nil
}

func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(data), nil
}

func unmarshalTags(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}
