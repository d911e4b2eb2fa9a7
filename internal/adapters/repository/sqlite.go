package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/apexrad/periscan/internal/domain/model"
	"github.com/apexrad/periscan/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	patient_id    TEXT NOT NULL,
	image_digest  TEXT NOT NULL,
	models        TEXT NOT NULL,
	policy        TEXT NOT NULL,
	prediction    TEXT NOT NULL,
	confidence    REAL NOT NULL,
	degraded      INTEGER NOT NULL DEFAULT 0,
	cache_status  TEXT NOT NULL,
	features      TEXT,
	processing_ms INTEGER NOT NULL DEFAULT 0,
	model_version TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessments_patient ON assessments(patient_id);
`

// SQLiteStore is the durable Store implementation backed by an embedded
// SQLite database in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteOption applies a configuration option to the SQLiteStore.
type SQLiteOption func(*sqliteConfig)

type sqliteConfig struct {
	maxOpenConns int
	maxIdleConns int
}

// WithMaxOpenConns caps the connection pool size.
func WithMaxOpenConns(n int) SQLiteOption {
	return func(c *sqliteConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// WithMaxIdleConns sets how many warm connections to keep.
func WithMaxIdleConns(n int) SQLiteOption {
	return func(c *sqliteConfig) {
		if n >= 0 {
			c.maxIdleConns = n
		}
	}
}

// NewSQLiteStore opens (or creates) the assessment database and applies the
// schema. The parent directory is created if missing.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	cfg := &sqliteConfig{maxOpenConns: 25, maxIdleConns: 5}
	for _, opt := range opts {
		opt(cfg)
	}

	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		path = abs
	}

	db, err := sql.Open("sqlite", connectionString(path))
	if err != nil {
		return nil, fmt.Errorf("open assessment database: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping assessment database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply assessment schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// connectionString builds the SQLite DSN with WAL mode and the pragmas that
// keep a long-running embedded database healthy.
func connectionString(path string) string {
	return path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=temp_store(MEMORY)" +
		"&_pragma=cache_size(-64000)"
}

// Save persists a completed assessment.
func (s *SQLiteStore) Save(ctx context.Context, a Assessment) error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrInvalidRecord
	}
	start := time.Now()

	var features []byte
	if len(a.Features) > 0 {
		b, err := json.Marshal(a.Features)
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		features = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO assessments
			(id, patient_id, image_digest, models, policy, prediction,
			 confidence, degraded, cache_status, features, processing_ms,
			 model_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.ImageDigest, joinModels(a.Models), string(a.Policy),
		string(a.Prediction), a.Confidence, boolToInt(a.Degraded),
		string(a.CacheStatus), features, a.ProcessingMS, a.ModelVersion,
		a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds()))
	return nil
}

// Get returns the assessment with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Assessment, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	a, err := scanAssessment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Assessment{}, ErrNotFound
	}
	if err != nil {
		return Assessment{}, fmt.Errorf("load assessment: %w", err)
	}
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	return a, nil
}

// List returns assessments matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Assessment, error) {
	start := time.Now()
	query := selectColumns
	args := make([]any, 0, 4)
	conds := make([]string, 0, 2)

	if f.Model != "" {
		conds = append(conds, `instr(',' || models || ',', ?) > 0`)
		args = append(args, ","+string(f.Model)+",")
	}
	if f.PatientID != "" {
		conds = append(conds, `patient_id = ?`)
		args = append(args, f.PatientID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		// SQLite requires LIMIT before OFFSET; -1 means unbounded.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	out := make([]Assessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	return out, nil
}

// Delete removes the assessment with the given ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assessments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of stored assessments.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assessments: %w", err)
	}
	return n, nil
}

// TrimBefore removes assessments created before the cutoff.
func (s *SQLiteStore) TrimBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM assessments WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("trim assessments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim assessments: %w", err)
	}
	return int(n), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, patient_id, image_digest, models, policy, prediction,
	       confidence, degraded, cache_status, features, processing_ms,
	       model_version, created_at
	FROM assessments`

// scanAssessment reads one row via the supplied Scan function, shared
// between QueryRow and Rows iteration.
func scanAssessment(scan func(...any) error) (Assessment, error) {
	var (
		a          Assessment
		models     string
		policy     string
		prediction string
		degraded   int
		cacheStat  string
		features   sql.NullString
		createdMS  int64
	)
	err := scan(&a.ID, &a.PatientID, &a.ImageDigest, &models, &policy,
		&prediction, &a.Confidence, &degraded, &cacheStat, &features,
		&a.ProcessingMS, &a.ModelVersion, &createdMS)
	if err != nil {
		return Assessment{}, err
	}

	a.Models = splitModels(models)
	a.Policy = model.Policy(policy)
	a.Prediction = model.Label(prediction)
	a.Degraded = degraded != 0
	a.CacheStatus = model.CacheStatus(cacheStat)
	a.CreatedAt = time.UnixMilli(createdMS).UTC()
	if features.Valid && features.String != "" {
		if err := json.Unmarshal([]byte(features.String), &a.Features); err != nil {
			return Assessment{}, fmt.Errorf("decode features: %w", err)
		}
	}
	return a, nil
}

func joinModels(kinds []model.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

func splitModels(s string) []model.Kind {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	kinds := make([]model.Kind, len(parts))
	for i, p := range parts {
		kinds[i] = model.Kind(p)
	}
	return kinds
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
