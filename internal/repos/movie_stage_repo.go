package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/types"
)

type MovieStageRepo interface {
	CreateBatch(dbc dbctx.Context, stages []*types.MovieStage) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MovieStage, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.MovieStage, error)
	// PromoteToQueued moves pending stages whose predecessors are satisfied
	// into the runnable set. Only the orchestrator's advance step calls it.
	PromoteToQueued(dbc dbctx.Context, ids []uuid.UUID) error
	// AcquireLease atomically flips queued→attempting and stamps the lease
	// owner. A false return means another executor won the stage (or it is
	// no longer queued) and the caller must walk away.
	AcquireLease(dbc dbctx.Context, id uuid.UUID, owner string) (bool, error)
	// ReleaseToQueued hands a transiently failed attempt back, with backoff
	// encoded in next_run_at. Guarded by the lease owner.
	ReleaseToQueued(dbc dbctx.Context, id uuid.UUID, owner string, errClass, lastError string, nextRunAt time.Time) (bool, error)
	MarkSucceeded(dbc dbctx.Context, id uuid.UUID, owner string, outputURL string) (bool, error)
	MarkFailed(dbc dbctx.Context, id uuid.UUID, owner string, errClass, lastError string) (bool, error)
	// RequeueForRetry resets a failed stage with a fresh attempt budget
	// (user-triggered manual retry).
	RequeueForRetry(dbc dbctx.Context, id uuid.UUID) (bool, error)
	// RequeueForRecovery re-runs a succeeded stage whose artifact is missing
	// from the job row, e.g. rows written before the two became one
	// transaction. The stage result without the artifact is unusable.
	RequeueForRecovery(dbc dbctx.Context, id uuid.UUID) (bool, error)
	// SkipPending flips specific pending stages to skipped, recording why.
	// Used when a dependency failed and the stage can never run.
	SkipPending(dbc dbctx.Context, ids []uuid.UUID, errClass string) error
	// SkipNonTerminal flips every pending/queued/attempting stage of a job
	// to skipped. In-flight attempts lose their lease guard, which is how
	// cancelled work's late results get discarded.
	SkipNonTerminal(dbc dbctx.Context, jobID uuid.UUID, errClass string) error
	// ListDueQueued returns queued stages whose next_run_at has passed, in
	// arrival order, for the resume scanner.
	ListDueQueued(dbc dbctx.Context, now time.Time, limit int) ([]*types.MovieStage, error)
	// DeletePendingAboveScene drops pending stages of kind with a scene
	// index beyond n. Used when the script yields fewer scenes than the
	// submit-time estimate.
	DeletePendingAboveScene(dbc dbctx.Context, jobID uuid.UUID, kind types.StageKind, n int) error
}

type movieStageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMovieStageRepo(db *gorm.DB, baseLog *logger.Logger) MovieStageRepo {
	return &movieStageRepo{
		db:  db,
		log: baseLog.With("repo", "MovieStageRepo"),
	}
}

func (r *movieStageRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *movieStageRepo) CreateBatch(dbc dbctx.Context, stages []*types.MovieStage) error {
	if len(stages) == 0 {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Create(&stages).Error
}

func (r *movieStageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MovieStage, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var st types.MovieStage
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&st).Error
	if err != nil {
		return nil, err
	}
	if st.ID == uuid.Nil {
		return nil, nil
	}
	return &st, nil
}

func (r *movieStageRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.MovieStage, error) {
	var out []*types.MovieStage
	if jobID == uuid.Nil {
		return out, nil
	}
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, scene_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *movieStageRepo) PromoteToQueued(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("id IN ? AND status = ?", ids, types.StagePending).
		Updates(map[string]interface{}{
			"status":      types.StageQueued,
			"next_run_at": now,
			"updated_at":  now,
		}).Error
}

func (r *movieStageRepo) AcquireLease(dbc dbctx.Context, id uuid.UUID, owner string) (bool, error) {
	if id == uuid.Nil || owner == "" {
		return false, nil
	}
	now := time.Now()
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("id = ? AND status = ?", id, types.StageQueued).
		Updates(map[string]interface{}{
			"status":      types.StageAttempting,
			"attempts":    gorm.Expr("attempts + 1"),
			"lease_owner": owner,
			"leased_at":   now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *movieStageRepo) ReleaseToQueued(dbc dbctx.Context, id uuid.UUID, owner string, errClass, lastError string, nextRunAt time.Time) (bool, error) {
	res := r.leased(dbc, id, owner).
		Updates(map[string]interface{}{
			"status":      types.StageQueued,
			"error_class": errClass,
			"last_error":  lastError,
			"lease_owner": "",
			"leased_at":   nil,
			"next_run_at": nextRunAt,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *movieStageRepo) MarkSucceeded(dbc dbctx.Context, id uuid.UUID, owner string, outputURL string) (bool, error) {
	res := r.leased(dbc, id, owner).
		Updates(map[string]interface{}{
			"status":      types.StageSucceeded,
			"output_url":  outputURL,
			"error_class": "",
			"last_error":  "",
			"lease_owner": "",
			"leased_at":   nil,
			"next_run_at": nil,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *movieStageRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, owner string, errClass, lastError string) (bool, error) {
	res := r.leased(dbc, id, owner).
		Updates(map[string]interface{}{
			"status":      types.StageFailed,
			"error_class": errClass,
			"last_error":  lastError,
			"lease_owner": "",
			"leased_at":   nil,
			"next_run_at": nil,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *movieStageRepo) RequeueForRetry(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("id = ? AND status = ?", id, types.StageFailed).
		Updates(map[string]interface{}{
			"status":      types.StageQueued,
			"attempts":    0,
			"error_class": "",
			"last_error":  "",
			"next_run_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *movieStageRepo) RequeueForRecovery(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("id = ? AND status = ?", id, types.StageSucceeded).
		Updates(map[string]interface{}{
			"status":      types.StageQueued,
			"attempts":    0,
			"output_url":  "",
			"error_class": "",
			"last_error":  "",
			"next_run_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *movieStageRepo) SkipPending(dbc dbctx.Context, ids []uuid.UUID, errClass string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("id IN ? AND status = ?", ids, types.StagePending).
		Updates(map[string]interface{}{
			"status":      types.StageSkipped,
			"error_class": errClass,
			"updated_at":  time.Now(),
		}).Error
}

func (r *movieStageRepo) SkipNonTerminal(dbc dbctx.Context, jobID uuid.UUID, errClass string) error {
	if jobID == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("job_id = ? AND status IN ?", jobID, []types.StageStatus{
			types.StagePending, types.StageQueued, types.StageAttempting,
		}).
		Updates(map[string]interface{}{
			"status":      types.StageSkipped,
			"error_class": errClass,
			"lease_owner": "",
			"leased_at":   nil,
			"next_run_at": nil,
			"updated_at":  time.Now(),
		}).Error
}

func (r *movieStageRepo) ListDueQueued(dbc dbctx.Context, now time.Time, limit int) ([]*types.MovieStage, error) {
	if limit <= 0 {
		limit = 64
	}
	var out []*types.MovieStage
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("status = ? AND (next_run_at IS NULL OR next_run_at <= ?)", types.StageQueued, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *movieStageRepo) DeletePendingAboveScene(dbc dbctx.Context, jobID uuid.UUID, kind types.StageKind, n int) error {
	if jobID == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Where("job_id = ? AND kind = ? AND status = ? AND scene_index > ?",
			jobID, kind, types.StagePending, n).
		Delete(&types.MovieStage{}).Error
}

func (r *movieStageRepo) leased(dbc dbctx.Context, id uuid.UUID, owner string) *gorm.DB {
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieStage{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, types.StageAttempting, owner)
}
