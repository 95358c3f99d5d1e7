package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/batchtran/internal"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobCanceled  = "canceled"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Item outcomes arrive from many goroutines; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		mode TEXT NOT NULL,
		sources TEXT NOT NULL,
		targets TEXT NOT NULL,
		entries INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		total INTEGER NOT NULL DEFAULT 0,
		deal INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		translated INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS job_items (
		job_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		item_key TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_text TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (job_id, seq),
		FOREIGN KEY (job_id) REFERENCES jobs(id)
	);

	CREATE TABLE IF NOT EXISTS translation_memory (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		final_text TEXT NOT NULL,
		service_used TEXT NOT NULL DEFAULT '',
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_text, source_lang, target_lang, service_used)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_items_job ON job_items(job_id);
	CREATE INDEX IF NOT EXISTS idx_memory_lookup ON translation_memory(source_text, source_lang, target_lang, service_used);
	`

	_, err := s.db.Exec(schema)
	return err
}

// JobRecord is a row from the jobs table.
type JobRecord struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"task_id"`
	Kind       string        `json:"kind"`
	Mode       string        `json:"mode"`
	Sources    []string      `json:"sources"`
	Targets    []string      `json:"targets"`
	Entries    int           `json:"entries"`
	Status     string        `json:"status"`
	Total      int           `json:"total"`
	Deal       int           `json:"deal"`
	Dropped    int           `json:"dropped"`
	Translated int           `json:"translated"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

func (s *Store) CreateJob(ctx context.Context, job internal.Job) error {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	targets, err := json.Marshal(job.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode targets: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, task_id, kind, mode, sources, targets, entries, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TaskID, job.Kind, string(job.Mode), string(sources), string(targets), len(job.Entries), JobRunning, job.CreatedAt)
	return err
}

func (s *Store) RecordItem(ctx context.Context, item internal.ItemOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO job_items (job_id, seq, item_key, source_lang, target_lang, source_text, result, status, error, service, attempts, latency_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.JobID, item.Seq, item.Key, item.SourceLang, item.TargetLang, item.SourceText,
		item.Result, item.Status, item.Error, item.Service, item.Attempts, item.Latency.Milliseconds())
	return err
}

func (s *Store) FinishJob(ctx context.Context, summary internal.Summary) error {
	status := JobCompleted
	if summary.Canceled {
		status = JobCanceled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, total = ?, deal = ?, dropped = ?, translated = ?, failed = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
		status, summary.Total, summary.Deal, summary.Dropped, summary.Translated, summary.Failed,
		summary.Duration.Milliseconds(), time.Now(), summary.JobID)
	return err
}

const jobColumns = `id, task_id, kind, mode, sources, targets, entries, status, total, deal, dropped, translated, failed, duration_ms, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var (
		j                JobRecord
		sources, targets string
		durationMs       int64
		finished         sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.TaskID, &j.Kind, &j.Mode, &sources, &targets, &j.Entries, &j.Status,
		&j.Total, &j.Deal, &j.Dropped, &j.Translated, &j.Failed, &durationMs, &j.CreatedAt, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &j.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(targets), &j.Targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	j.Duration = time.Duration(durationMs) * time.Millisecond
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

// GetJob returns one job or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// ListJobs returns the most recent jobs first. limit <= 0 returns all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ListItems returns a job's recorded item outcomes in start order.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]internal.ItemOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, seq, item_key, source_lang, target_lang, source_text, result, status, error, service, attempts, latency_ms FROM job_items WHERE job_id = ? ORDER BY seq`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []internal.ItemOutcome
	for rows.Next() {
		var it internal.ItemOutcome
		var latencyMs int64
		if err := rows.Scan(&it.JobID, &it.Seq, &it.Key, &it.SourceLang, &it.TargetLang, &it.SourceText,
			&it.Result, &it.Status, &it.Error, &it.Service, &it.Attempts, &latencyMs); err != nil {
			return nil, err
		}
		it.Latency = time.Duration(latencyMs) * time.Millisecond
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetCachedTranslation looks up what service produced for the text and
// language pair. Entries of other services are never returned.
func (s *Store) GetCachedTranslation(ctx context.Context, sourceText, sourceLang, targetLang, service string) (string, bool, error) {
	var finalText string
	var invalidated bool

	err := s.db.QueryRowContext(ctx,
		`SELECT final_text, invalidated FROM translation_memory WHERE source_text = ? AND source_lang = ? AND target_lang = ? AND service_used = ?`,
		normalizeText(sourceText), sourceLang, targetLang, service).Scan(&finalText, &invalidated)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if invalidated {
		return "", false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_memory SET usage_count = usage_count + 1, last_used = ? WHERE source_text = ? AND source_lang = ? AND target_lang = ? AND service_used = ?`,
		time.Now(), normalizeText(sourceText), sourceLang, targetLang, service)

	return finalText, true, err
}

// SaveToMemory stores a translation, replacing any earlier one by the same
// service for the same text and language pair and clearing its invalidation.
func (s *Store) SaveToMemory(ctx context.Context, sourceText, sourceLang, targetLang, finalText, serviceUsed string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translation_memory (id, source_text, source_lang, target_lang, final_text, service_used, usage_count, invalidated, last_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, FALSE, ?, ?)
		 ON CONFLICT(source_text, source_lang, target_lang, service_used) DO UPDATE SET
			final_text = excluded.final_text,
			invalidated = FALSE,
			last_used = excluded.last_used`,
		uuid.NewString(), normalizeText(sourceText), sourceLang, targetLang, finalText, serviceUsed, now, now)
	return err
}

// MemoryEntry is a row from the translation_memory table.
type MemoryEntry struct {
	ID          string
	SourceText  string
	SourceLang  string
	TargetLang  string
	FinalText   string
	ServiceUsed string
	UsageCount  int
	Invalidated bool
	LastUsed    time.Time
}

// CacheStats summarises translation memory usage.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
}

func (s *Store) InvalidateMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE translation_memory SET invalidated = TRUE WHERE id = ?`, id)
	return err
}

// DeleteMemory permanently removes a translation memory entry by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory WHERE id = ?`, id)
	return err
}

// ClearMemory removes all translation memory entries.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMemory returns all translation memory entries ordered by most recently used.
func (s *Store) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_text, source_lang, target_lang, final_text, service_used, usage_count, invalidated, last_used FROM translation_memory ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.SourceText, &e.SourceLang, &e.TargetLang, &e.FinalText, &e.ServiceUsed, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the translation memory.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM translation_memory`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent cache key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
