package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MovieStatus string

const (
	MoviePending   MovieStatus = "pending"
	MovieRunning   MovieStatus = "running"
	MovieCompleted MovieStatus = "completed"
	MovieFailed    MovieStatus = "failed"
	MovieCancelled MovieStatus = "cancelled"
)

func (s MovieStatus) Terminal() bool {
	return s == MovieCompleted || s == MovieFailed || s == MovieCancelled
}

// MovieJob is the durable record of one movie-creation request. It is created
// by the intake API, mutated only by the orchestrator, and immutable once
// terminal (retained for history).
type MovieJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_movie_job_idem,priority:1" json:"owner_user_id"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex:idx_movie_job_idem,priority:2" json:"idempotency_key"`
	Title          string         `gorm:"not null" json:"title"`
	Genre          string         `json:"genre"`
	Style          string         `json:"style"`
	Description    string         `json:"description"`
	Status         MovieStatus    `gorm:"column:status;not null;index" json:"status"`
	Stage          string         `gorm:"column:stage" json:"stage"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Script         datatypes.JSON `gorm:"column:script" json:"script,omitempty"`
	PosterURL      string         `gorm:"column:poster_url" json:"poster_url,omitempty"`
	TrailerURL     string         `gorm:"column:trailer_url" json:"trailer_url,omitempty"`
	VideoURL       string         `gorm:"column:video_url" json:"video_url,omitempty"`
	ReservationID  uuid.UUID      `gorm:"type:uuid;column:reservation_id" json:"reservation_id"`
	CreditsReserved int           `gorm:"column:credits_reserved;not null;default:0" json:"credits_reserved"`
	CreditsSpent   int            `gorm:"column:credits_spent;not null;default:0" json:"credits_spent"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (MovieJob) TableName() string { return "movie_job" }

// SceneDescriptor is one entry of the generated script, stored on
// MovieJob.Script as a JSON array ordered by Number.
type SceneDescriptor struct {
	Number      int    `json:"scene_number"`
	Description string `json:"description"`
}
