package service

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/repository"
)

func newJobFixture(t *testing.T) (*JobService, int64) {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	customers := repository.NewCustomerRepository(db)
	owner := &domain.Customer{Email: "ops@example.com", Username: "ops", HashedPassword: "x"}
	if err := customers.Create(owner); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	return NewJobService(repository.NewJobRepository(db), zap.NewNop()), owner.ID
}

func TestJobCreateAndGet(t *testing.T) {
	svc, owner := newJobFixture(t)

	job, err := svc.Create(owner, "deploy vpc", domain.CommandApply, map[string]interface{}{"region": "us-east-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == 0 || job.Status != domain.JobPending {
		t.Errorf("job = %+v", job)
	}

	got, err := svc.Get(job.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "deploy vpc" || got.Command != domain.CommandApply {
		t.Errorf("got = %+v", got)
	}
	if got.Config["region"] != "us-east-1" {
		t.Errorf("config roundtrip lost: %v", got.Config)
	}
}

func TestJobCreateValidation(t *testing.T) {
	svc, owner := newJobFixture(t)

	if _, err := svc.Create(owner, "", domain.CommandPlan, map[string]interface{}{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing name: %v", err)
	}
	if _, err := svc.Create(owner, "job", "rollback", map[string]interface{}{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad command: %v", err)
	}
	if _, err := svc.Create(owner, "job", domain.CommandPlan, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("nil config: %v", err)
	}
}

func TestJobOwnershipEnforced(t *testing.T) {
	svc, owner := newJobFixture(t)

	job, err := svc.Create(owner, "deploy", domain.CommandPlan, map[string]interface{}{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get(job.ID, owner+1); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("other customer access: %v", err)
	}
	// ownerID 0 is the admin path and skips the check.
	if _, err := svc.Get(job.ID, 0); err != nil {
		t.Errorf("admin access: %v", err)
	}
}

func TestJobGetMissing(t *testing.T) {
	svc, _ := newJobFixture(t)
	if _, err := svc.Get(999, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobCancelPending(t *testing.T) {
	svc, owner := newJobFixture(t)

	job, err := svc.Create(owner, "deploy", domain.CommandApply, map[string]interface{}{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := svc.Cancel(job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.JobCancelled {
		t.Errorf("status = %q", cancelled.Status)
	}
	if !strings.Contains(cancelled.ErrorLog, "apply cancelled while pending") {
		t.Errorf("error log = %q", cancelled.ErrorLog)
	}

	// A terminal job cannot be cancelled again.
	if _, err := svc.Cancel(job.ID); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("second cancel: %v", err)
	}
}

func TestJobListForCustomer(t *testing.T) {
	svc, owner := newJobFixture(t)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(owner, "deploy", domain.CommandPlan, map[string]interface{}{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	jobs, err := svc.ListForCustomer(owner, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("got %d jobs, want 2", len(jobs))
	}

	all, err := svc.ListAll(10, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d jobs, want 3", len(all))
	}

	none, err := svc.ListForCustomer(owner+1, 10, 0)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("other customer sees %d jobs", len(none))
	}
}

func TestJobDelete(t *testing.T) {
	svc, owner := newJobFixture(t)

	job, err := svc.Create(owner, "deploy", domain.CommandPlan, map[string]interface{}{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(job.ID, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}
