package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/testdb"
	"github.com/cineolabs/cineo-backend/internal/types"
)

func newJobRepo(t *testing.T) (MovieJobRepo, dbctx.Context) {
	t.Helper()
	gdb := testdb.DB(t)
	return NewMovieJobRepo(gdb, logger.NewNop()), dbctx.Context{Ctx: context.Background()}
}

func makeJob(ownerID uuid.UUID, key string) *types.MovieJob {
	now := time.Now()
	return &types.MovieJob{
		ID:             uuid.New(),
		OwnerUserID:    ownerID,
		IdempotencyKey: key,
		Title:          "The Last Debug",
		Status:         types.MoviePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMovieJobRepoDuplicateIdempotencyKey(t *testing.T) {
	r, dbc := newJobRepo(t)
	ownerID := uuid.New()

	if err := r.Create(dbc, makeJob(ownerID, "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := r.Create(dbc, makeJob(ownerID, "key-1"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// The same key under a different owner is a different submission.
	if err := r.Create(dbc, makeJob(uuid.New(), "key-1")); err != nil {
		t.Fatalf("create with other owner: %v", err)
	}
}

func TestMovieJobRepoGetByIdempotencyKey(t *testing.T) {
	r, dbc := newJobRepo(t)
	ownerID := uuid.New()
	job := makeJob(ownerID, "key-2")
	if err := r.Create(dbc, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.GetByIdempotencyKey(dbc, ownerID, "key-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("unexpected job: %+v", got)
	}
	missing, err := r.GetByIdempotencyKey(dbc, ownerID, "other")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil, got %+v", missing)
	}
}

func TestMovieJobRepoGuardedUpdateRespectsTerminal(t *testing.T) {
	r, dbc := newJobRepo(t)
	job := makeJob(uuid.New(), "key-3")
	if err := r.Create(dbc, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	terminal := []types.MovieStatus{types.MovieCompleted, types.MovieFailed, types.MovieCancelled}
	changed, err := r.UpdateFieldsUnlessStatus(dbc, job.ID, terminal, map[string]interface{}{
		"status": types.MovieCancelled,
	})
	if err != nil || !changed {
		t.Fatalf("first transition: changed=%v err=%v", changed, err)
	}

	// A terminal job never changes again.
	changed, err = r.UpdateFieldsUnlessStatus(dbc, job.ID, terminal, map[string]interface{}{
		"status": types.MovieCompleted,
	})
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if changed {
		t.Fatal("update overwrote a terminal job")
	}
	got, err := r.GetByID(dbc, job.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.MovieCancelled {
		t.Fatalf("unexpected status: got=%s want=%s", got.Status, types.MovieCancelled)
	}
}

func TestMovieJobRepoListActive(t *testing.T) {
	r, dbc := newJobRepo(t)
	running := makeJob(uuid.New(), "key-4")
	if err := r.Create(dbc, running); err != nil {
		t.Fatalf("create: %v", err)
	}
	done := makeJob(uuid.New(), "key-5")
	done.Status = types.MovieCompleted
	if err := r.Create(dbc, done); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := r.ListActive(dbc, 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != running.ID {
		t.Fatalf("unexpected active set: %+v", active)
	}
}
