package types

import (
	"time"

	"github.com/google/uuid"
)

// CreditAccount holds a user's balance split into the three conserved
// buckets. available + reserved + spent only changes through the ledger.
type CreditAccount struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Available int       `gorm:"column:available;not null;default:0" json:"available"`
	Reserved  int       `gorm:"column:reserved;not null;default:0" json:"reserved"`
	Spent     int       `gorm:"column:spent;not null;default:0" json:"spent"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CreditAccount) TableName() string { return "credit_account" }

type ReservationStatus string

const (
	ReservationHeld   ReservationStatus = "held"
	ReservationClosed ReservationStatus = "closed"
)

// CreditReservation is a pre-debited hold against a user's balance, opened
// when a job starts and closed exactly once in the same transaction as the
// job's terminal state change.
type CreditReservation struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	JobID     uuid.UUID         `gorm:"type:uuid;index" json:"job_id"`
	Amount    int               `gorm:"column:amount;not null" json:"amount"`
	Committed int               `gorm:"column:committed;not null;default:0" json:"committed"`
	Released  int               `gorm:"column:released;not null;default:0" json:"released"`
	Status    ReservationStatus `gorm:"column:status;not null;index" json:"status"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

func (CreditReservation) TableName() string { return "credit_reservation" }
