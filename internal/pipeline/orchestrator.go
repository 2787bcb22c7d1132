package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cineolabs/cineo-backend/internal/credits"
	"github.com/cineolabs/cineo-backend/internal/notify"
	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/repos"
	"github.com/cineolabs/cineo-backend/internal/types"
)

const errClassDependency = "dependency_failed"

var jobTerminalStatuses = []types.MovieStatus{
	types.MovieCompleted, types.MovieFailed, types.MovieCancelled,
}

type CreateMovieParams struct {
	Title          string `json:"title"`
	Genre          string `json:"genre"`
	Style          string `json:"style"`
	Description    string `json:"description"`
	SceneCount     int    `json:"scene_count"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Snapshot is the read model handed to the API: the job row, its stages in
// creation order, and the owner's current balance.
type Snapshot struct {
	Job     *types.MovieJob     `json:"job"`
	Stages  []*types.MovieStage `json:"stages"`
	Credits credits.Balance     `json:"credits"`
}

// Orchestrator owns the movie job lifecycle. All lifecycle writes funnel
// through a per-job critical section (advance), and every transition is a
// guarded update, so replicas and racing callers cannot corrupt a job.
type Orchestrator struct {
	db       *gorm.DB
	jobs     repos.MovieJobRepo
	stages   repos.MovieStageRepo
	ledger   *credits.Ledger
	pool     *Pool
	notifier notify.Notifier
	policy   Policy
	log      *logger.Logger

	locks jobLocks
}

func NewOrchestrator(
	db *gorm.DB,
	jobs repos.MovieJobRepo,
	stages repos.MovieStageRepo,
	ledger *credits.Ledger,
	notifier notify.Notifier,
	policy Policy,
	baseLog *logger.Logger,
) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		db:       db,
		jobs:     jobs,
		stages:   stages,
		ledger:   ledger,
		notifier: notifier,
		policy:   policy,
		log:      baseLog.With("component", "Orchestrator"),
		locks:    jobLocks{m: make(map[uuid.UUID]*jobLock)},
	}
}

// SetPool wires the worker pool after construction; the pool's executor in
// turn calls back into OnStageDone.
func (o *Orchestrator) SetPool(p *Pool) { o.pool = p }

// Submit registers a movie request. A reused idempotency key returns the
// existing job with ErrDuplicateSubmission. Reservation, job row and stage
// rows commit in one transaction, so a failed reserve leaves nothing behind.
func (o *Orchestrator) Submit(ctx context.Context, ownerID uuid.UUID, p CreateMovieParams) (*Snapshot, error) {
	if ownerID == uuid.Nil {
		return nil, ErrNotFound
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	key := strings.TrimSpace(p.IdempotencyKey)
	if key == "" {
		key = contentKey(ownerID, p)
	}

	dbc := dbctx.Context{Ctx: ctx}
	if existing, err := o.jobs.GetByIdempotencyKey(dbc, ownerID, key); err != nil {
		return nil, err
	} else if existing != nil {
		snap, err := o.snapshotOf(dbc, existing)
		if err != nil {
			return nil, err
		}
		return snap, ErrDuplicateSubmission
	}

	sceneEstimate := p.SceneCount
	if sceneEstimate <= 0 {
		sceneEstimate = DefaultSceneEstimate
	}
	amount := EstimateCost(sceneEstimate)
	jobID := uuid.New()
	now := time.Now()

	job := &types.MovieJob{
		ID:              jobID,
		OwnerUserID:     ownerID,
		IdempotencyKey:  key,
		Title:           p.Title,
		Genre:           p.Genre,
		Style:           p.Style,
		Description:     p.Description,
		Status:          types.MoviePending,
		Stage:           string(types.StageScript),
		CreditsReserved: amount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		resID, err := o.ledger.Reserve(txc, ownerID, jobID, amount)
		if err != nil {
			return err
		}
		job.ReservationID = resID
		if err := o.jobs.Create(txc, job); err != nil {
			return err
		}
		return o.stages.CreateBatch(txc, initialStages(jobID, sceneEstimate, o.policy.MaxAttempts, now))
	})
	if errors.Is(err, repos.ErrDuplicateKey) {
		// Lost a race on the same key; surface the winner.
		existing, gerr := o.jobs.GetByIdempotencyKey(dbc, ownerID, key)
		if gerr != nil || existing == nil {
			return nil, err
		}
		snap, serr := o.snapshotOf(dbc, existing)
		if serr != nil {
			return nil, serr
		}
		return snap, ErrDuplicateSubmission
	}
	if err != nil {
		return nil, err
	}

	if _, err := o.jobs.UpdateFieldsUnlessStatus(dbc, jobID, jobTerminalStatuses, map[string]interface{}{
		"status": types.MovieRunning,
	}); err != nil {
		o.log.Error("mark job running", "job_id", jobID, "error", err)
	}
	o.log.Info("movie job submitted",
		"job_id", jobID, "owner_id", ownerID, "title", p.Title,
		"scene_estimate", sceneEstimate, "credits_reserved", amount)

	o.Advance(ctx, jobID)
	job, err = o.jobs.GetByID(dbc, jobID)
	if err != nil || job == nil {
		return nil, ErrNotFound
	}
	return o.snapshotOf(dbc, job)
}

// Snapshot returns the current state of one job owned by the caller.
func (o *Orchestrator) Snapshot(ctx context.Context, ownerID, jobID uuid.UUID) (*Snapshot, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.ownedJob(dbc, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	return o.snapshotOf(dbc, job)
}

// List returns the caller's jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, ownerID uuid.UUID) ([]*types.MovieJob, error) {
	return o.jobs.ListByOwner(dbctx.Context{Ctx: ctx}, ownerID)
}

// Cancel marks a non-terminal job cancelled, skips every unfinished stage and
// settles the reservation for the work already done. In-flight attempts lose
// their lease, so results arriving later fall on the floor.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, jobID uuid.UUID) (*Snapshot, error) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.ownedJob(dbc, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := o.stages.SkipNonTerminal(txc, jobID, errClassCancelled); err != nil {
			return err
		}
		stages, err := o.stages.ListByJob(txc, jobID)
		if err != nil {
			return err
		}
		spent := spentCredits(stages)
		changed, err := o.jobs.UpdateFieldsUnlessStatus(txc, jobID, jobTerminalStatuses, map[string]interface{}{
			"status":        types.MovieCancelled,
			"error":         "cancelled by user",
			"credits_spent": spent,
			"progress":      progressPercent(stages),
		})
		if err != nil {
			return err
		}
		if !changed {
			return ErrAlreadyTerminal
		}
		return o.ledger.Close(txc, job.ReservationID, spent)
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("movie job cancelled", "job_id", jobID, "owner_id", ownerID)
	job, err = o.jobs.GetByID(dbc, jobID)
	if err != nil || job == nil {
		return nil, ErrNotFound
	}
	o.notifier.Publish(ctx, notify.Event{
		Type: notify.EventCancelled, JobID: jobID, OwnerID: ownerID,
		Status: string(job.Status), Progress: job.Progress,
	})
	return o.snapshotOf(dbc, job)
}

// RetryStage gives one failed stage a fresh attempt budget while the job is
// still running.
func (o *Orchestrator) RetryStage(ctx context.Context, ownerID, jobID, stageID uuid.UUID) (*Snapshot, error) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.ownedJob(dbc, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	st, err := o.stages.GetByID(dbc, stageID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.JobID != jobID {
		return nil, ErrStageNotFound
	}
	if st.Status != types.StageFailed {
		return nil, ErrStageNotRetryable
	}
	changed, err := o.stages.RequeueForRetry(dbc, stageID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrStageNotRetryable
	}
	o.log.Info("stage requeued for retry",
		"job_id", jobID, "stage_id", stageID, "kind", st.Kind)

	unlock()
	o.Advance(ctx, jobID)
	return o.Snapshot(ctx, ownerID, jobID)
}

// OnStageDone is the executor's callback for a terminal stage outcome.
func (o *Orchestrator) OnStageDone(jobID uuid.UUID) {
	o.Advance(context.Background(), jobID)
}

// Advance is the per-job critical section: promote runnable stages, hand
// queued work to the pool, and finalize the job once every stage is settled.
// It always re-reads state under the lock, so callers may invoke it freely.
func (o *Orchestrator) Advance(ctx context.Context, jobID uuid.UUID) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil || job == nil || job.Status.Terminal() {
		return
	}
	stages, err := o.stages.ListByJob(dbc, jobID)
	if err != nil {
		o.log.Error("list stages", "job_id", jobID, "error", err)
		return
	}

	job, stages, ok := o.reconcileScenes(dbc, job, stages)
	if !ok {
		return
	}

	if dead := unfulfillable(stages); len(dead) > 0 {
		ids := stageIDs(dead)
		if err := o.stages.SkipPending(dbc, ids, errClassDependency); err != nil {
			o.log.Error("skip unfulfillable stages", "job_id", jobID, "error", err)
			return
		}
	}
	if promo := promotable(stages); len(promo) > 0 {
		if err := o.stages.PromoteToQueued(dbc, stageIDs(promo)); err != nil {
			o.log.Error("promote stages", "job_id", jobID, "error", err)
			return
		}
	}

	stages, err = o.stages.ListByJob(dbc, jobID)
	if err != nil {
		o.log.Error("list stages", "job_id", jobID, "error", err)
		return
	}

	if allTerminal(stages) {
		o.finalize(dbc, job, stages)
		return
	}

	o.enqueueDue(stages)
	o.publishProgress(dbc, job, stages)
}

// Resume runs the periodic scanner until ctx is cancelled. It re-advances
// every active job, which requeues work stranded by a crash or a full pool
// queue, and re-enqueues stages whose backoff has elapsed.
func (o *Orchestrator) Resume(ctx context.Context) error {
	ticker := time.NewTicker(o.policy.ResumeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.resumeOnce(ctx)
		}
	}
}

func (o *Orchestrator) resumeOnce(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	due, err := o.stages.ListDueQueued(dbc, time.Now(), o.policy.QueueSize)
	if err != nil {
		o.log.Error("scan due stages", "error", err)
	}
	for _, st := range due {
		if err := o.pool.Enqueue(Task{JobID: st.JobID, StageID: st.ID}); err != nil {
			break
		}
	}
	active, err := o.jobs.ListActive(dbc, 64)
	if err != nil {
		o.log.Error("scan active jobs", "error", err)
		return
	}
	for _, j := range active {
		o.Advance(ctx, j.ID)
	}
}

// reconcileScenes aligns the storyboard stage set with the generated script.
// Extra scenes need the reservation extended first; a short script sheds its
// surplus pending storyboards. The false return means the job went terminal
// (extension was refused) or the stage rows could not be brought back into a
// usable shape this round.
func (o *Orchestrator) reconcileScenes(dbc dbctx.Context, job *types.MovieJob, stages []*types.MovieStage) (*types.MovieJob, []*types.MovieStage, bool) {
	v := viewOf(stages)
	if !v.scriptDone {
		return job, stages, true
	}
	if len(job.Script) == 0 {
		// A succeeded script stage without its scene list on the job row is
		// unusable; rerun it rather than leave the job stalled.
		var scriptID uuid.UUID
		for _, st := range stages {
			if st.Kind == types.StageScript {
				scriptID = st.ID
				break
			}
		}
		requeued, err := o.stages.RequeueForRecovery(dbc, scriptID)
		if err != nil || !requeued {
			if err != nil {
				o.log.Error("requeue script for recovery", "job_id", job.ID, "error", err)
			}
			return job, stages, false
		}
		o.log.Warn("script succeeded without scene list, rerunning", "job_id", job.ID, "stage_id", scriptID)
		stages, err = o.stages.ListByJob(dbc, job.ID)
		if err != nil {
			o.log.Error("list stages", "job_id", job.ID, "error", err)
			return job, stages, false
		}
		return job, stages, true
	}
	scenes, err := decodeScript(job)
	if err != nil {
		o.log.Error("decode script", "job_id", job.ID, "error", err)
		return job, stages, false
	}

	have := make(map[int]bool, v.storyboards)
	maxScene := 0
	for _, st := range stages {
		if st.Kind == types.StageStoryboard {
			have[st.SceneIndex] = true
			if st.SceneIndex > maxScene {
				maxScene = st.SceneIndex
			}
		}
	}
	var missing []*types.MovieStage
	now := time.Now()
	for _, sc := range scenes {
		if !have[sc.Number] {
			missing = append(missing, newStage(job.ID, types.StageStoryboard, sc.Number, o.policy.MaxAttempts, types.StagePending, now))
		}
	}

	if len(missing) > 0 {
		extra := len(missing) * CostStoryboard
		err := o.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
			txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
			if err := o.ledger.Extend(txc, job.ReservationID, extra); err != nil {
				return err
			}
			if _, err := o.jobs.UpdateFieldsUnlessStatus(txc, job.ID, jobTerminalStatuses, map[string]interface{}{
				"credits_reserved": job.CreditsReserved + extra,
			}); err != nil {
				return err
			}
			return o.stages.CreateBatch(txc, missing)
		})
		if errors.Is(err, credits.ErrInsufficientCredits) {
			o.failJob(dbc, job, fmt.Sprintf("insufficient credits for %d scenes", len(scenes)))
			return job, stages, false
		}
		if err != nil {
			o.log.Error("extend reservation", "job_id", job.ID, "error", err)
			return job, stages, false
		}
		o.log.Info("reservation extended for extra scenes",
			"job_id", job.ID, "scenes", len(scenes), "extra_credits", extra)
	}

	if maxScene > len(scenes) {
		if err := o.stages.DeletePendingAboveScene(dbc, job.ID, types.StageStoryboard, len(scenes)); err != nil {
			o.log.Error("trim surplus storyboards", "job_id", job.ID, "error", err)
			return job, stages, false
		}
	}

	if len(missing) > 0 || maxScene > len(scenes) {
		job2, err := o.jobs.GetByID(dbc, job.ID)
		if err != nil || job2 == nil {
			return job, stages, false
		}
		stages2, err := o.stages.ListByJob(dbc, job.ID)
		if err != nil {
			return job, stages, false
		}
		return job2, stages2, true
	}
	return job, stages, true
}

// finalize closes the job and its reservation in one transaction. The guard
// on the status write makes it run at most once even with racing advances.
func (o *Orchestrator) finalize(dbc dbctx.Context, job *types.MovieJob, stages []*types.MovieStage) {
	status := types.MovieCompleted
	msg := ""
	if anyFailed(stages) {
		status = types.MovieFailed
		msg = firstFailure(stages)
	}
	spent := spentCredits(stages)

	err := o.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		changed, err := o.jobs.UpdateFieldsUnlessStatus(txc, job.ID, jobTerminalStatuses, map[string]interface{}{
			"status":        status,
			"error":         msg,
			"credits_spent": spent,
			"progress":      100,
			"stage":         "",
		})
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return o.ledger.Close(txc, job.ReservationID, spent)
	})
	if err != nil {
		o.log.Error("finalize job", "job_id", job.ID, "status", status, "error", err)
		return
	}

	o.log.Info("movie job finished",
		"job_id", job.ID, "status", status, "credits_spent", spent, "error", msg)
	evType := notify.EventCompleted
	if status == types.MovieFailed {
		evType = notify.EventFailed
	}
	o.notifier.Publish(dbc.Ctx, notify.Event{
		Type: evType, JobID: job.ID, OwnerID: job.OwnerUserID,
		Status: string(status), Progress: 100, Error: msg,
	})
}

// failJob force-fails a running job outside the all-terminal path, e.g. when
// a reservation extension is refused.
func (o *Orchestrator) failJob(dbc dbctx.Context, job *types.MovieJob, msg string) {
	err := o.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if err := o.stages.SkipNonTerminal(txc, job.ID, errClassDependency); err != nil {
			return err
		}
		stages, err := o.stages.ListByJob(txc, job.ID)
		if err != nil {
			return err
		}
		spent := spentCredits(stages)
		changed, err := o.jobs.UpdateFieldsUnlessStatus(txc, job.ID, jobTerminalStatuses, map[string]interface{}{
			"status":        types.MovieFailed,
			"error":         msg,
			"credits_spent": spent,
			"progress":      progressPercent(stages),
		})
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return o.ledger.Close(txc, job.ReservationID, spent)
	})
	if err != nil {
		o.log.Error("fail job", "job_id", job.ID, "error", err)
		return
	}
	o.log.Warn("movie job failed", "job_id", job.ID, "error", msg)
	o.notifier.Publish(dbc.Ctx, notify.Event{
		Type: notify.EventFailed, JobID: job.ID, OwnerID: job.OwnerUserID,
		Status: string(types.MovieFailed), Error: msg,
	})
}

// enqueueDue hands runnable stages to the pool. A full queue is fine: the
// stage stays queued in the store and the scanner retries. The lease guard
// makes duplicate enqueues harmless.
func (o *Orchestrator) enqueueDue(stages []*types.MovieStage) {
	if o.pool == nil {
		return
	}
	now := time.Now()
	for _, st := range stages {
		if st.Status != types.StageQueued {
			continue
		}
		if st.NextRunAt != nil && st.NextRunAt.After(now) {
			continue
		}
		if err := o.pool.Enqueue(Task{JobID: st.JobID, StageID: st.ID}); err != nil {
			return
		}
	}
}

func (o *Orchestrator) publishProgress(dbc dbctx.Context, job *types.MovieJob, stages []*types.MovieStage) {
	progress := progressPercent(stages)
	label := currentStageLabel(stages)
	if progress == job.Progress && label == job.Stage {
		return
	}
	if _, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, jobTerminalStatuses, map[string]interface{}{
		"progress": progress,
		"stage":    label,
	}); err != nil {
		o.log.Error("update progress", "job_id", job.ID, "error", err)
		return
	}
	o.notifier.Publish(dbc.Ctx, notify.Event{
		Type: notify.EventProgress, JobID: job.ID, OwnerID: job.OwnerUserID,
		Status: string(types.MovieRunning), Stage: label, Progress: progress,
	})
}

func (o *Orchestrator) ownedJob(dbc dbctx.Context, ownerID, jobID uuid.UUID) (*types.MovieJob, error) {
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.OwnerUserID != ownerID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (o *Orchestrator) snapshotOf(dbc dbctx.Context, job *types.MovieJob) (*Snapshot, error) {
	stages, err := o.stages.ListByJob(dbc, job.ID)
	if err != nil {
		return nil, err
	}
	bal, err := o.ledger.Balance(dbc, job.OwnerUserID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Job: job, Stages: stages, Credits: bal}, nil
}

// initialStages builds the full stage set for a new job. Creation timestamps
// are staggered by a microsecond so listing order is stable.
func initialStages(jobID uuid.UUID, sceneEstimate, maxAttempts int, now time.Time) []*types.MovieStage {
	out := []*types.MovieStage{
		newStage(jobID, types.StageScript, 0, maxAttempts, types.StageQueued, now),
	}
	for i := 1; i <= sceneEstimate; i++ {
		out = append(out, newStage(jobID, types.StageStoryboard, i, maxAttempts, types.StagePending, now))
	}
	out = append(out,
		newStage(jobID, types.StageVideo, 0, maxAttempts, types.StagePending, now),
		newStage(jobID, types.StagePoster, 0, maxAttempts, types.StagePending, now),
		newStage(jobID, types.StageTrailer, 0, maxAttempts, types.StagePending, now),
	)
	for i, st := range out {
		st.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
	}
	return out
}

func newStage(jobID uuid.UUID, kind types.StageKind, sceneIndex, maxAttempts int, status types.StageStatus, now time.Time) *types.MovieStage {
	st := &types.MovieStage{
		ID:          uuid.New(),
		JobID:       jobID,
		Kind:        kind,
		SceneIndex:  sceneIndex,
		Status:      status,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == types.StageQueued {
		st.NextRunAt = &now
	}
	return st
}

func firstFailure(stages []*types.MovieStage) string {
	for _, st := range stages {
		if st.Status == types.StageFailed {
			return fmt.Sprintf("%s: %s", st.Kind, st.LastError)
		}
	}
	return ""
}

func stageIDs(stages []*types.MovieStage) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(stages))
	for _, st := range stages {
		ids = append(ids, st.ID)
	}
	return ids
}

// contentKey derives an idempotency key from the request content when the
// caller supplied none, so an identical retry still collapses.
func contentKey(ownerID uuid.UUID, p CreateMovieParams) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", ownerID, p.Title, p.Genre, p.Style, p.Description)
	return "auto-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// jobLocks hands out one mutex per job id, dropped when the last holder
// releases it.
type jobLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*jobLock
}

type jobLock struct {
	sync.Mutex
	refs int
}

func (l *jobLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	e := l.m[id]
	if e == nil {
		e = &jobLock{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.m, id)
			}
			l.mu.Unlock()
		})
	}
}
