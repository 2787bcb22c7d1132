package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/cineolabs/cineo-backend/internal/types"
)

func AutoMigrateAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	return db.AutoMigrate(
		// Pipeline state of record
		&types.MovieJob{},
		&types.MovieStage{},

		// Credit ledger
		&types.CreditAccount{},
		&types.CreditReservation{},
	)
}
