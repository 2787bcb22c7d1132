package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/testdb"
	"github.com/cineolabs/cineo-backend/internal/types"
)

func newStageRepo(t *testing.T) (MovieStageRepo, dbctx.Context) {
	t.Helper()
	gdb := testdb.DB(t)
	return NewMovieStageRepo(gdb, logger.NewNop()), dbctx.Context{Ctx: context.Background()}
}

func makeStage(jobID uuid.UUID, kind types.StageKind, sceneIndex int, status types.StageStatus) *types.MovieStage {
	now := time.Now()
	return &types.MovieStage{
		ID:          uuid.New(),
		JobID:       jobID,
		Kind:        kind,
		SceneIndex:  sceneIndex,
		Status:      status,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStageLeaseIsExclusive(t *testing.T) {
	r, dbc := newStageRepo(t)
	st := makeStage(uuid.New(), types.StageScript, 0, types.StageQueued)
	if err := r.CreateBatch(dbc, []*types.MovieStage{st}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := r.AcquireLease(dbc, st.ID, "exec-a")
	if err != nil || !ok {
		t.Fatalf("first lease: ok=%v err=%v", ok, err)
	}
	ok, err = r.AcquireLease(dbc, st.ID, "exec-b")
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if ok {
		t.Fatal("two executors hold the same stage")
	}

	got, err := r.GetByID(dbc, st.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.StageAttempting || got.LeaseOwner != "exec-a" || got.Attempts != 1 {
		t.Fatalf("unexpected stage after lease: %+v", got)
	}
}

func TestStageTerminalWritesAreLeaseGuarded(t *testing.T) {
	r, dbc := newStageRepo(t)
	st := makeStage(uuid.New(), types.StageVideo, 0, types.StageQueued)
	if err := r.CreateBatch(dbc, []*types.MovieStage{st}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := r.AcquireLease(dbc, st.ID, "exec-a"); err != nil || !ok {
		t.Fatalf("lease: ok=%v err=%v", ok, err)
	}

	// A stranger's write must bounce.
	changed, err := r.MarkSucceeded(dbc, st.ID, "exec-b", "s3://movie.mp4")
	if err != nil {
		t.Fatalf("stranger write: %v", err)
	}
	if changed {
		t.Fatal("write without the lease succeeded")
	}
	changed, err = r.MarkSucceeded(dbc, st.ID, "exec-a", "s3://movie.mp4")
	if err != nil || !changed {
		t.Fatalf("owner write: changed=%v err=%v", changed, err)
	}
}

func TestStageSkipNonTerminalDiscardsInFlight(t *testing.T) {
	r, dbc := newStageRepo(t)
	jobID := uuid.New()
	leased := makeStage(jobID, types.StageStoryboard, 1, types.StageQueued)
	pending := makeStage(jobID, types.StageVideo, 0, types.StagePending)
	done := makeStage(jobID, types.StageScript, 0, types.StageSucceeded)
	if err := r.CreateBatch(dbc, []*types.MovieStage{leased, pending, done}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := r.AcquireLease(dbc, leased.ID, "exec-a"); err != nil || !ok {
		t.Fatalf("lease: ok=%v err=%v", ok, err)
	}

	if err := r.SkipNonTerminal(dbc, jobID, "cancelled"); err != nil {
		t.Fatalf("skip: %v", err)
	}

	// The in-flight attempt lost its lease; its late result is discarded.
	changed, err := r.MarkSucceeded(dbc, leased.ID, "exec-a", "s3://late.png")
	if err != nil {
		t.Fatalf("late write: %v", err)
	}
	if changed {
		t.Fatal("late result landed on a cancelled stage")
	}

	stages, err := r.ListByJob(dbc, jobID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, st := range stages {
		switch st.ID {
		case done.ID:
			if st.Status != types.StageSucceeded {
				t.Fatalf("succeeded stage touched by skip: %+v", st)
			}
		default:
			if st.Status != types.StageSkipped {
				t.Fatalf("stage not skipped: %+v", st)
			}
		}
	}
}

func TestStagePromoteToQueuedOnlyMovesPending(t *testing.T) {
	r, dbc := newStageRepo(t)
	jobID := uuid.New()
	pending := makeStage(jobID, types.StagePoster, 0, types.StagePending)
	failed := makeStage(jobID, types.StageTrailer, 0, types.StageFailed)
	if err := r.CreateBatch(dbc, []*types.MovieStage{pending, failed}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.PromoteToQueued(dbc, []uuid.UUID{pending.ID, failed.ID}); err != nil {
		t.Fatalf("promote: %v", err)
	}
	stages, err := r.ListByJob(dbc, jobID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, st := range stages {
		switch st.ID {
		case pending.ID:
			if st.Status != types.StageQueued {
				t.Fatalf("pending stage not promoted: %+v", st)
			}
		case failed.ID:
			if st.Status != types.StageFailed {
				t.Fatalf("failed stage promoted: %+v", st)
			}
		}
	}
}

func TestStageRequeueForRetryResetsAttempts(t *testing.T) {
	r, dbc := newStageRepo(t)
	st := makeStage(uuid.New(), types.StageStoryboard, 2, types.StageQueued)
	if err := r.CreateBatch(dbc, []*types.MovieStage{st}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := r.AcquireLease(dbc, st.ID, "exec-a"); err != nil || !ok {
		t.Fatalf("lease: ok=%v err=%v", ok, err)
	}
	if changed, err := r.MarkFailed(dbc, st.ID, "exec-a", "permanent", "boom"); err != nil || !changed {
		t.Fatalf("fail: changed=%v err=%v", changed, err)
	}

	changed, err := r.RequeueForRetry(dbc, st.ID)
	if err != nil || !changed {
		t.Fatalf("requeue: changed=%v err=%v", changed, err)
	}
	got, err := r.GetByID(dbc, st.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.StageQueued || got.Attempts != 0 || got.LastError != "" {
		t.Fatalf("unexpected stage after requeue: %+v", got)
	}

	// Only failed stages are retryable.
	changed, err = r.RequeueForRetry(dbc, st.ID)
	if err != nil {
		t.Fatalf("second requeue: %v", err)
	}
	if changed {
		t.Fatal("requeued a non-failed stage")
	}
}

func TestStageListDueQueuedHonorsNextRunAt(t *testing.T) {
	r, dbc := newStageRepo(t)
	jobID := uuid.New()
	due := makeStage(jobID, types.StageScript, 0, types.StageQueued)
	past := time.Now().Add(-time.Minute)
	due.NextRunAt = &past
	later := makeStage(jobID, types.StagePoster, 0, types.StageQueued)
	future := time.Now().Add(time.Hour)
	later.NextRunAt = &future
	if err := r.CreateBatch(dbc, []*types.MovieStage{due, later}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.ListDueQueued(dbc, time.Now(), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("unexpected due set: %+v", got)
	}
}

func TestStageDeletePendingAboveScene(t *testing.T) {
	r, dbc := newStageRepo(t)
	jobID := uuid.New()
	var batch []*types.MovieStage
	for i := 1; i <= 5; i++ {
		batch = append(batch, makeStage(jobID, types.StageStoryboard, i, types.StagePending))
	}
	if err := r.CreateBatch(dbc, batch); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.DeletePendingAboveScene(dbc, jobID, types.StageStoryboard, 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stages, err := r.ListByJob(dbc, jobID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("unexpected stage count: got=%d want=3", len(stages))
	}
	for _, st := range stages {
		if st.SceneIndex > 3 {
			t.Fatalf("surplus stage survived: %+v", st)
		}
	}
}
