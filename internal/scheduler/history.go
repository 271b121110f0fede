package scheduler

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// JobHistoryRepository records job executions in the cache database so
// operators can see when a refresh last ran and whether it succeeded.
type JobHistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// JobRun is one recorded execution.
type JobRun struct {
	ID         int64      `json:"id"`
	JobName    string     `json:"job_name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty"`
}

// NewJobHistoryRepository creates a new job history repository
func NewJobHistoryRepository(db *sql.DB, log zerolog.Logger) *JobHistoryRepository {
	return &JobHistoryRepository{
		db:  db,
		log: log.With().Str("component", "job_history").Logger(),
	}
}

// RecordStart inserts a pending run row and returns its id.
func (r *JobHistoryRepository) RecordStart(jobName string) (int64, error) {
	result, err := r.db.Exec(`INSERT INTO job_history (job_name, started_at, success) VALUES (?, ?, 0)`,
		jobName, time.Now().UTC().Unix())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// RecordFinish stamps the run row with the outcome.
func (r *JobHistoryRepository) RecordFinish(id int64, success bool, message string) error {
	successInt := 0
	if success {
		successInt = 1
	}
	_, err := r.db.Exec(`UPDATE job_history SET finished_at = ?, success = ?, message = ? WHERE id = ?`,
		time.Now().UTC().Unix(), successInt, message, id)
	return err
}

// Recent returns the latest runs, newest first.
func (r *JobHistoryRepository) Recent(limit int) ([]JobRun, error) {
	rows, err := r.db.Query(`SELECT id, job_name, started_at, finished_at, success, COALESCE(message, '')
	                         FROM job_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var run JobRun
		var started int64
		var finished sql.NullInt64
		var success int
		if err := rows.Scan(&run.ID, &run.JobName, &started, &finished, &success, &run.Message); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			t := time.Unix(finished.Int64, 0).UTC()
			run.FinishedAt = &t
		}
		run.Success = success == 1
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
