package domain

import "time"

// Customer is an end-user account on the admin service.
type Customer struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name,omitempty"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Admin is an operator account with full access to the admin service.
type Admin struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name,omitempty"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobStatus enumerates the lifecycle states of an infrastructure job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobCommand enumerates the infrastructure commands a job can run.
type JobCommand string

const (
	CommandPlan    JobCommand = "plan"
	CommandApply   JobCommand = "apply"
	CommandDestroy JobCommand = "destroy"
)

// Job is a tracked infrastructure run owned by a customer.
type Job struct {
	ID          int64                  `json:"id"`
	CustomerID  int64                  `json:"customer_id"`
	Name        string                 `json:"name"`
	Command     JobCommand             `json:"command"`
	Config      map[string]interface{} `json:"config"`
	Status      JobStatus              `json:"status"`
	OutputLog   string                 `json:"output_log,omitempty"`
	ErrorLog    string                 `json:"error_log,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
