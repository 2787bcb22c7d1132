package repos

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/types"
)

// ErrDuplicateKey is returned by Create when the (owner, idempotency key)
// unique index rejects the row. Callers resolve it to the existing job.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

type MovieJobRepo interface {
	Create(dbc dbctx.Context, job *types.MovieJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MovieJob, error)
	GetByIdempotencyKey(dbc dbctx.Context, ownerUserID uuid.UUID, key string) (*types.MovieJob, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.MovieJob, error)
	// ListActive returns non-terminal jobs, oldest first. The resume scanner
	// walks these to pick up work stranded by a restart or backpressure.
	ListActive(dbc dbctx.Context, limit int) ([]*types.MovieJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only while the job is not in
	// one of the disallowed statuses; reports whether a row changed. Every
	// lifecycle transition goes through this guard so a terminal job is
	// never overwritten.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []types.MovieStatus, updates map[string]interface{}) (bool, error)
}

type movieJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMovieJobRepo(db *gorm.DB, baseLog *logger.Logger) MovieJobRepo {
	return &movieJobRepo{
		db:  db,
		log: baseLog.With("repo", "MovieJobRepo"),
	}
}

func (r *movieJobRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *movieJobRepo) Create(dbc dbctx.Context, job *types.MovieJob) error {
	if job == nil {
		return nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *movieJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MovieJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.MovieJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *movieJobRepo) GetByIdempotencyKey(dbc dbctx.Context, ownerUserID uuid.UUID, key string) (*types.MovieJob, error) {
	if ownerUserID == uuid.Nil || key == "" {
		return nil, nil
	}
	var job types.MovieJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ? AND idempotency_key = ?", ownerUserID, key).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *movieJobRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.MovieJob, error) {
	var out []*types.MovieJob
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *movieJobRepo) ListActive(dbc dbctx.Context, limit int) ([]*types.MovieJob, error) {
	if limit <= 0 {
		limit = 64
	}
	var out []*types.MovieJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("status IN ?", []types.MovieStatus{types.MoviePending, types.MovieRunning}).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *movieJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *movieJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []types.MovieStatus, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.MovieJob{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
