package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// JobRepository handles infrastructure job persistence
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job in pending status
func (r *JobRepository) Create(job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = domain.JobPending
	}

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}

	result, err := r.db.Exec(`
		INSERT INTO jobs (customer_id, name, command, config, status, output_log, error_log, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.CustomerID, job.Name, string(job.Command), string(configJSON), string(job.Status),
		job.OutputLog, job.ErrorLog, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return err
	}

	job.ID, err = result.LastInsertId()
	return err
}

func scanJob(scan func(dest ...interface{}) error) (*domain.Job, error) {
	job := &domain.Job{}
	var configJSON string
	var command, status string
	var outputLog, errorLog sql.NullString
	var startedAt, completedAt sql.NullTime

	err := scan(&job.ID, &job.CustomerID, &job.Name, &command, &configJSON, &status,
		&outputLog, &errorLog, &startedAt, &completedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.Command = domain.JobCommand(command)
	job.Status = domain.JobStatus(status)
	job.OutputLog = outputLog.String
	job.ErrorLog = errorLog.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if configJSON != "" && configJSON != "null" {
		if err := json.Unmarshal([]byte(configJSON), &job.Config); err != nil {
			return nil, fmt.Errorf("decode job config: %w", err)
		}
	}
	return job, nil
}

const jobColumns = `id, customer_id, name, command, config, status, output_log, error_log, started_at, completed_at, created_at, updated_at`

// Get retrieves a job by ID
func (r *JobRepository) Get(id int64) (*domain.Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return job, err
}

// ListByCustomer retrieves a customer's jobs, newest first
func (r *JobRepository) ListByCustomer(customerID int64, limit, offset int) ([]*domain.Job, error) {
	rows, err := r.db.Query(`
		SELECT `+jobColumns+` FROM jobs WHERE customer_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// List retrieves all jobs, newest first
func (r *JobRepository) List(limit, offset int) ([]*domain.Job, error) {
	rows, err := r.db.Query(`
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus transitions a job's status and timestamps
func (r *JobRepository) UpdateStatus(id int64, status domain.JobStatus) error {
	now := time.Now().UTC()

	var startedAt, completedAt interface{}
	switch status {
	case domain.JobRunning:
		startedAt = now
	case domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
		completedAt = now
	}

	result, err := r.db.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(status), now, startedAt, completedAt, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return nil
}

// AppendLogs appends output and error log text to a job
func (r *JobRepository) AppendLogs(id int64, output, errorLog string) error {
	result, err := r.db.Exec(`
		UPDATE jobs SET
			output_log = COALESCE(output_log, '') || ?,
			error_log = COALESCE(error_log, '') || ?,
			updated_at = ?
		WHERE id = ?
	`, output, errorLog, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return nil
}

// Delete deletes a job
func (r *JobRepository) Delete(id int64) error {
	result, err := r.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return nil
}
