package types

import (
	"time"

	"github.com/google/uuid"
)

type StageKind string

const (
	StageScript     StageKind = "script"
	StageStoryboard StageKind = "storyboard"
	StageVideo      StageKind = "video"
	StagePoster     StageKind = "poster"
	StageTrailer    StageKind = "trailer"
)

type StageStatus string

const (
	// StagePending: row exists but predecessors are not satisfied yet.
	StagePending    StageStatus = "pending"
	StageQueued     StageStatus = "queued"
	StageAttempting StageStatus = "attempting"
	StageSucceeded  StageStatus = "succeeded"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

// MovieStage is one unit of pipeline work producing one artifact for a job.
// The queued→attempting transition doubles as the lease: it is a guarded
// update stamping LeaseOwner, so two executors can never hold the same stage.
type MovieStage struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	JobID      uuid.UUID   `gorm:"type:uuid;not null;index" json:"job_id"`
	Kind       StageKind   `gorm:"column:kind;not null;index" json:"kind"`
	SceneIndex int         `gorm:"column:scene_index;not null;default:0" json:"scene_index"`
	Status     StageStatus `gorm:"column:status;not null;index" json:"status"`
	Attempts   int         `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	LastError  string      `gorm:"column:last_error" json:"last_error,omitempty"`
	ErrorClass string      `gorm:"column:error_class" json:"error_class,omitempty"`
	OutputURL  string      `gorm:"column:output_url" json:"output_url,omitempty"`
	LeaseOwner string      `gorm:"column:lease_owner" json:"-"`
	LeasedAt   *time.Time  `gorm:"column:leased_at" json:"-"`
	NextRunAt  *time.Time  `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	CreatedAt  time.Time   `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"not null" json:"updated_at"`
}

func (MovieStage) TableName() string { return "movie_stage" }
