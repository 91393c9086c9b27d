package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store archives finished jobs.
type Store struct {
	db *sql.DB
}

// JobRecord is the archived summary of one terminal job.
type JobRecord struct {
	ID            string
	Symbol        string
	TradeDate     string
	Status        string
	Percent       float64
	HeatScore     float64
	HeatLevel     string
	SourceQuality string
	Decision      string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
	// StageResults maps a stage name to its last output.
	StageResults map[string]string
}

type JobWithMeta struct {
	JobRecord
	RowID     int64
	CreatedAt string
	UpdatedAt string
}

type StageResult struct {
	Stage   string
	Content string
	Seq     int
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    symbol TEXT,
    trade_date TEXT,
    status TEXT NOT NULL,
    percent REAL NOT NULL DEFAULT 0,
    heat_score REAL,
    heat_level TEXT,
    source_quality TEXT,
    decision TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    started_at TEXT,
    finished_at TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS stage_results (
    job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    stage TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(finished_at);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ArchiveJob upserts a job and replaces its stage results.
func (s *Store) ArchiveJob(ctx context.Context, job JobRecord) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if strings.TrimSpace(job.Status) == "" {
		return fmt.Errorf("job status is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO jobs (id, symbol, trade_date, status, percent, heat_score, heat_level, source_quality, decision, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    symbol=excluded.symbol,
    trade_date=excluded.trade_date,
    status=excluded.status,
    percent=excluded.percent,
    heat_score=excluded.heat_score,
    heat_level=excluded.heat_level,
    source_quality=excluded.source_quality,
    decision=excluded.decision,
    error=excluded.error,
    started_at=excluded.started_at,
    finished_at=excluded.finished_at,
    updated_at=CURRENT_TIMESTAMP
`, job.ID, job.Symbol, job.TradeDate, job.Status, job.Percent, job.HeatScore, job.HeatLevel,
		job.SourceQuality, job.Decision, job.Error, formatTime(job.StartedAt), formatTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_results WHERE job_id = ?`, job.ID); err != nil {
		return fmt.Errorf("clear stage results: %w", err)
	}

	stages := make([]string, 0, len(job.StageResults))
	for name := range job.StageResults {
		stages = append(stages, name)
	}
	sort.Strings(stages)
	for i, name := range stages {
		_, err := tx.ExecContext(ctx, `
INSERT INTO stage_results (job_id, seq, stage, content)
VALUES (?, ?, ?, ?)
`, job.ID, i+1, name, job.StageResults[name])
		if err != nil {
			return fmt.Errorf("insert stage result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// ListJobs pages archived jobs newest first. cursor is the last seen RowID, 0 for the first page.
func (s *Store) ListJobs(ctx context.Context, cursor int64, limit int) ([]JobWithMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, id, symbol, trade_date, status, percent, heat_score, heat_level, source_quality, decision, error, started_at, finished_at, created_at, updated_at
FROM jobs
WHERE (? = 0 OR rowid < ?)
ORDER BY rowid DESC
LIMIT ?
`, cursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobWithMeta
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs rows: %w", err)
	}
	return jobs, nil
}

// GetJob returns nil without error when the job is not archived.
func (s *Store) GetJob(ctx context.Context, jobID string) (*JobWithMeta, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT rowid, id, symbol, trade_date, status, percent, heat_score, heat_level, source_quality, decision, error, started_at, finished_at, created_at, updated_at
FROM jobs
WHERE id = ?
LIMIT 1
`, jobID)

	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	results, err := s.ListStageResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		rec.StageResults = make(map[string]string, len(results))
		for _, r := range results {
			rec.StageResults[r.Stage] = r.Content
		}
	}
	return rec, nil
}

func (s *Store) ListStageResults(ctx context.Context, jobID string) ([]StageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT stage, content, seq
FROM stage_results
WHERE job_id = ?
ORDER BY seq ASC
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var out []StageResult
	for rows.Next() {
		var r StageResult
		if err := rows.Scan(&r.Stage, &r.Content, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage results rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobWithMeta, error) {
	var (
		rec                   JobWithMeta
		heatScore             sql.NullFloat64
		heatLevel, quality    sql.NullString
		symbol, tradeDate     sql.NullString
		startedAt, finishedAt sql.NullString
	)
	err := row.Scan(&rec.RowID, &rec.ID, &symbol, &tradeDate, &rec.Status, &rec.Percent, &heatScore, &heatLevel,
		&quality, &rec.Decision, &rec.Error, &startedAt, &finishedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	rec.Symbol = symbol.String
	rec.TradeDate = tradeDate.String
	rec.HeatScore = heatScore.Float64
	rec.HeatLevel = heatLevel.String
	rec.SourceQuality = quality.String
	rec.StartedAt = parseTime(startedAt.String)
	rec.FinishedAt = parseTime(finishedAt.String)
	return &rec, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
