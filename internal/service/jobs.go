package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/repository"
)

// JobService manages infrastructure job records. Jobs track status only;
// cancel is a status transition, not process control.
type JobService struct {
	jobs   *repository.JobRepository
	logger *zap.Logger
}

// NewJobService creates a job service.
func NewJobService(jobs *repository.JobRepository, logger *zap.Logger) *JobService {
	return &JobService{jobs: jobs, logger: logger}
}

// Create records a new pending job for a customer.
func (s *JobService) Create(customerID int64, name string, command domain.JobCommand, cfg map[string]interface{}) (*domain.Job, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: job name is required", domain.ErrValidation)
	}
	switch command {
	case domain.CommandPlan, domain.CommandApply, domain.CommandDestroy:
	default:
		return nil, fmt.Errorf("%w: command %q is not one of plan, apply, destroy", domain.ErrValidation, command)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: job config is required", domain.ErrValidation)
	}

	job := &domain.Job{
		CustomerID: customerID,
		Name:       name,
		Command:    command,
		Config:     cfg,
		Status:     domain.JobPending,
	}
	if err := s.jobs.Create(job); err != nil {
		return nil, err
	}

	s.logger.Info("job created",
		zap.Int64("id", job.ID),
		zap.Int64("customer_id", customerID),
		zap.String("command", string(command)),
	)
	return job, nil
}

// Get retrieves a job. A customer may only see their own jobs; admins pass
// ownerID 0 to skip the ownership check.
func (s *JobService) Get(id, ownerID int64) (*domain.Job, error) {
	job, err := s.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if ownerID != 0 && job.CustomerID != ownerID {
		return nil, fmt.Errorf("%w: job %d", domain.ErrForbidden, id)
	}
	return job, nil
}

// ListForCustomer pages through one customer's jobs.
func (s *JobService) ListForCustomer(customerID int64, limit, offset int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.jobs.ListByCustomer(customerID, limit, offset)
}

// ListAll pages through every customer's jobs.
func (s *JobService) ListAll(limit, offset int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.jobs.List(limit, offset)
}

// Cancel marks a pending or running job cancelled.
func (s *JobService) Cancel(id int64) (*domain.Job, error) {
	job, err := s.jobs.Get(id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case domain.JobPending, domain.JobRunning:
	default:
		return nil, fmt.Errorf("%w: job %d is %s and cannot be cancelled", domain.ErrValidation, id, job.Status)
	}

	if err := s.jobs.UpdateStatus(id, domain.JobCancelled); err != nil {
		return nil, err
	}
	// Leave a trace in the job's error log so the record explains why the
	// run never completed.
	if err := s.jobs.AppendLogs(id, "", fmt.Sprintf("%s cancelled while %s\n", job.Command, job.Status)); err != nil {
		return nil, err
	}
	s.logger.Info("job cancelled", zap.Int64("id", id))
	return s.jobs.Get(id)
}

// Delete removes a job record.
func (s *JobService) Delete(id int64) error {
	if err := s.jobs.Delete(id); err != nil {
		return err
	}
	s.logger.Info("job deleted", zap.Int64("id", id))
	return nil
}
