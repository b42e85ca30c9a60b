package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/dispatch"
	"github.com/docdex/docdex/internal/domain"
	domjob "github.com/docdex/docdex/internal/domain/job"
)

// --- Mocks ---

type mockRepo struct {
	created   []domjob.Job
	statuses  []domjob.Status
	logged    []string
	getResult domjob.Job
	getErr    error
	statusErr error
}

func (m *mockRepo) Create(_ context.Context, jobType domjob.Type, payload json.RawMessage) (domjob.Job, error) {
	j := domjob.New(jobType, payload, 1700000000).WithID(int64(len(m.created) + 1))
	m.created = append(m.created, j)
	return j, nil
}

func (m *mockRepo) Get(_ context.Context, _ int64) (domjob.Job, error) {
	return m.getResult, m.getErr
}

func (m *mockRepo) UpdateStatus(_ context.Context, _ int64, status domjob.Status) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockRepo) AddLog(_ context.Context, _ int64, _ domjob.LogLevel, message string) error {
	m.logged = append(m.logged, message)
	return nil
}

func (m *mockRepo) Logs(_ context.Context, _ int64) ([]domjob.LogEntry, error) {
	return []domjob.LogEntry{{Level: domjob.LevelInfo, Message: "started"}}, nil
}

type mockDispatcher struct {
	dispatched []dispatch.Descriptor
	err        error
}

func (m *mockDispatcher) Dispatch(_ context.Context, d dispatch.Descriptor) error {
	if m.err != nil {
		return m.err
	}
	m.dispatched = append(m.dispatched, d)
	return nil
}

// --- Tests ---

func TestCreateMigrateJob_PersistsAndDispatches(t *testing.T) {
	repo := &mockRepo{}
	disp := &mockDispatcher{}
	svc := New(repo, zap.NewNop()).WithDispatcher(disp)

	j, err := svc.CreateMigrateJob(context.Background(), 7, domjob.ModeReinsert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.JobStatus() != domjob.StatusCreated {
		t.Errorf("status = %q, want %q", j.JobStatus(), domjob.StatusCreated)
	}
	if len(disp.dispatched) != 1 {
		t.Fatalf("dispatched %d descriptors, want 1", len(disp.dispatched))
	}

	var payload domjob.MigratePayload
	if err := json.Unmarshal(disp.dispatched[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.IndexID != 7 || payload.Mode != domjob.ModeReinsert {
		t.Errorf("payload = %+v", payload)
	}
}

func TestCreateMigrateJob_DispatchFailureMarksJobFailed(t *testing.T) {
	repo := &mockRepo{}
	disp := &mockDispatcher{err: errors.New("stream gone")}
	svc := New(repo, zap.NewNop()).WithDispatcher(disp)

	_, err := svc.CreateMigrateJob(context.Background(), 7, domjob.ModeAppend)
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	if len(repo.statuses) != 1 || repo.statuses[0] != domjob.StatusFailed {
		t.Errorf("statuses = %v, want [failed]", repo.statuses)
	}
	if len(repo.logged) != 1 {
		t.Errorf("expected one failure log, got %v", repo.logged)
	}
}

func TestGet_IncludesLogs(t *testing.T) {
	repo := &mockRepo{getResult: domjob.Reconstruct(3, domjob.TypeIndexMigrate, nil, domjob.StatusSucceed, 1, 2)}
	svc := New(repo, zap.NewNop())

	j, logs, err := svc.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.ID() != 3 {
		t.Errorf("id = %d, want 3", j.ID())
	}
	if len(logs) != 1 || logs[0].Message != "started" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := &mockRepo{getErr: domain.ErrNotFound}
	svc := New(repo, zap.NewNop())

	if _, _, err := svc.Get(context.Background(), 9); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus_SwallowsStorageErrors(t *testing.T) {
	repo := &mockRepo{statusErr: errors.New("db locked")}
	svc := New(repo, zap.NewNop())

	// Must not panic or surface the error.
	svc.SetStatus(context.Background(), 1, domjob.StatusRunning)
}
