// Package store persists job history in SQLite so terminal results
// survive restarts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jdahl/transcoded/internal/ffmpeg"
	"github.com/jdahl/transcoded/internal/jobs"
	"github.com/jdahl/transcoded/internal/progress"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	input_path TEXT NOT NULL,
	output_override TEXT,
	mode TEXT NOT NULL,
	profile_description TEXT NOT NULL DEFAULT '',
	profile_extension TEXT NOT NULL DEFAULT '',
	is_hardware INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	duration_ms INTEGER,
	fraction REAL NOT NULL DEFAULT 0,
	processed_ms INTEGER NOT NULL DEFAULT 0,
	output_path TEXT,
	output_size INTEGER,
	input_size INTEGER,
	elapsed_ms INTEGER,
	ratio REAL,
	diagnostic TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

const jobColumns = `id, input_path, output_override, mode,
	profile_description, profile_extension, is_hardware,
	status, duration_ms, fraction, processed_ms,
	output_path, output_size, input_size, elapsed_ms, ratio, diagnostic,
	created_at, started_at, completed_at`

// SQLiteStore implements job persistence using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// Check/set schema version
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// SaveJob persists a job using INSERT OR REPLACE.
func (s *SQLiteStore) SaveJob(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		outputPath string
		outputSize int64
		inputSize  int64
		elapsedMs  int64
		ratio      float64
		diagnostic string
	)
	if job.Result != nil {
		outputPath = job.Result.OutputPath
		outputSize = job.Result.OutputSize
		inputSize = job.Result.InputSize
		elapsedMs = job.Result.Elapsed.Milliseconds()
		ratio = job.Result.Ratio
		diagnostic = job.Result.Diagnostic
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.Request.InputPath, nullString(job.Request.OutputPath), string(job.Request.Mode),
		job.Profile.Description, job.Profile.Extension, boolToInt(job.Profile.Hardware),
		string(job.Status), nullInt64(job.Duration.Milliseconds()),
		job.Progress.Fraction, job.Progress.Processed.Milliseconds(),
		nullString(outputPath), nullInt64(outputSize), nullInt64(inputSize),
		nullInt64(elapsedMs), nullFloat64(ratio), nullString(diagnostic),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	return err
}

// GetJob retrieves a job by ID. Returns nil if not found.
func (s *SQLiteStore) GetJob(id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// GetAllJobs returns all jobs in creation order.
func (s *SQLiteStore) GetAllJobs() ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobList []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobList = append(jobList, job)
	}
	return jobList, rows.Err()
}

// DeleteJob removes a job by ID. Deleting a missing job is not an error.
func (s *SQLiteStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// FailInterruptedJobs marks every non-terminal job as failed. Called at
// startup: a job still probing or running in the database was cut off by
// a crash or shutdown and its process is gone. Returns the number of
// jobs marked.
func (s *SQLiteStore) FailInterruptedJobs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, diagnostic = 'interrupted by shutdown', completed_at = ?
		WHERE status IN (?, ?)
	`, string(jobs.StatusFailed), formatTime(time.Now()),
		string(jobs.StatusProbing), string(jobs.StatusRunning))
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*jobs.Job, error) {
	var (
		job            jobs.Job
		outputOverride sql.NullString
		mode           string
		isHardware     int
		status         string
		durationMs     sql.NullInt64
		processedMs    int64
		outputPath     sql.NullString
		outputSize     sql.NullInt64
		inputSize      sql.NullInt64
		elapsedMs      sql.NullInt64
		ratio          sql.NullFloat64
		diagnostic     sql.NullString
		createdAt      string
		startedAt      sql.NullString
		completedAt    sql.NullString
	)

	err := row.Scan(
		&job.ID, &job.Request.InputPath, &outputOverride, &mode,
		&job.Profile.Description, &job.Profile.Extension, &isHardware,
		&status, &durationMs, &job.Progress.Fraction, &processedMs,
		&outputPath, &outputSize, &inputSize, &elapsedMs, &ratio, &diagnostic,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Request.OutputPath = outputOverride.String
	job.Request.Mode = ffmpeg.Mode(mode)
	job.Profile.Mode = ffmpeg.Mode(mode)
	job.Profile.Hardware = isHardware != 0
	job.Status = jobs.Status(status)
	job.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	job.Progress.Processed = time.Duration(processedMs) * time.Millisecond
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseTime(completedAt.String)

	if job.IsTerminal() {
		job.Result = &jobs.Result{
			Outcome:    job.Status,
			OutputPath: outputPath.String,
			OutputSize: outputSize.Int64,
			InputSize:  inputSize.Int64,
			Elapsed:    time.Duration(elapsedMs.Int64) * time.Millisecond,
			Ratio:      ratio.Float64,
			Diagnostic: diagnostic.String,
		}
	}

	// Stored snapshots never carry a live ETA.
	job.Progress = progress.Snapshot{
		Fraction:  job.Progress.Fraction,
		Processed: job.Progress.Processed,
	}

	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullFloat64(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
