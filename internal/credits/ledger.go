package credits

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/types"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation already closed")
)

// Free tier grant for accounts created on first touch.
const initialGrant = 300

type Balance struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Spent     int `json:"spent"`
}

// Ledger owns per-user credit balances. Every operation is a single
// transaction with the account row locked, so concurrent reservations for
// one user serialize. commit + release always account for the full
// originally reserved amount; a closed reservation rejects further ops.
type Ledger struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLedger(db *gorm.DB, baseLog *logger.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: baseLog.With("service", "CreditLedger"),
	}
}

func (l *Ledger) Balance(dbc dbctx.Context, userID uuid.UUID) (Balance, error) {
	var out Balance
	err := l.inTx(dbc, func(tx *gorm.DB) error {
		acct, err := l.lockAccount(tx, userID)
		if err != nil {
			return err
		}
		out = Balance{Available: acct.Available, Reserved: acct.Reserved, Spent: acct.Spent}
		return nil
	})
	return out, err
}

// Reserve moves amount from available into the reserved bucket and opens a
// reservation. Fails with ErrInsufficientCredits without side effects when
// the available balance is short.
func (l *Ledger) Reserve(dbc dbctx.Context, userID, jobID uuid.UUID, amount int) (uuid.UUID, error) {
	if amount < 0 {
		return uuid.Nil, fmt.Errorf("negative reserve amount %d", amount)
	}
	resID := uuid.New()
	err := l.inTx(dbc, func(tx *gorm.DB) error {
		acct, err := l.lockAccount(tx, userID)
		if err != nil {
			return err
		}
		if acct.Available < amount {
			return ErrInsufficientCredits
		}
		now := time.Now()
		if err := tx.Model(&types.CreditAccount{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"available":  acct.Available - amount,
				"reserved":   acct.Reserved + amount,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Create(&types.CreditReservation{
			ID:        resID,
			UserID:    userID,
			JobID:     jobID,
			Amount:    amount,
			Status:    types.ReservationHeld,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
	})
	if err != nil {
		return uuid.Nil, err
	}
	return resID, nil
}

// Extend grows an open reservation, e.g. when the script yields more scenes
// than the submit-time estimate. Same availability check as Reserve.
func (l *Ledger) Extend(dbc dbctx.Context, reservationID uuid.UUID, amount int) error {
	if amount <= 0 {
		return nil
	}
	return l.inTx(dbc, func(tx *gorm.DB) error {
		res, err := l.lockReservation(tx, reservationID)
		if err != nil {
			return err
		}
		acct, err := l.lockAccount(tx, res.UserID)
		if err != nil {
			return err
		}
		if acct.Available < amount {
			return ErrInsufficientCredits
		}
		now := time.Now()
		if err := tx.Model(&types.CreditAccount{}).
			Where("user_id = ?", res.UserID).
			Updates(map[string]interface{}{
				"available":  acct.Available - amount,
				"reserved":   acct.Reserved + amount,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&types.CreditReservation{}).
			Where("id = ?", res.ID).
			Updates(map[string]interface{}{
				"amount":     res.Amount + amount,
				"updated_at": now,
			}).Error
	})
}

// Close finalizes a reservation: actual credits become spent, the remainder
// returns to available, and the reservation flips to closed exactly once.
// actual + remainder must equal the reserved amount; the orchestrator calls
// this inside the same transaction as the job's terminal status write.
func (l *Ledger) Close(dbc dbctx.Context, reservationID uuid.UUID, actual int) error {
	if actual < 0 {
		return fmt.Errorf("negative commit amount %d", actual)
	}
	return l.inTx(dbc, func(tx *gorm.DB) error {
		res, err := l.lockReservation(tx, reservationID)
		if err != nil {
			return err
		}
		if actual > res.Amount {
			return fmt.Errorf("commit %d exceeds reserved %d", actual, res.Amount)
		}
		remainder := res.Amount - actual
		acct, err := l.lockAccount(tx, res.UserID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(&types.CreditAccount{}).
			Where("user_id = ?", res.UserID).
			Updates(map[string]interface{}{
				"available":  acct.Available + remainder,
				"reserved":   acct.Reserved - res.Amount,
				"spent":      acct.Spent + actual,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&types.CreditReservation{}).
			Where("id = ?", res.ID).
			Updates(map[string]interface{}{
				"committed":  actual,
				"released":   remainder,
				"status":     types.ReservationClosed,
				"updated_at": now,
			}).Error
	})
}

// Commit closes the reservation charging the full actual amount.
func (l *Ledger) Commit(dbc dbctx.Context, reservationID uuid.UUID, actual int) error {
	return l.Close(dbc, reservationID, actual)
}

// Release closes the reservation charging nothing.
func (l *Ledger) Release(dbc dbctx.Context, reservationID uuid.UUID) error {
	return l.Close(dbc, reservationID, 0)
}

func (l *Ledger) inTx(dbc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dbc.Tx != nil {
		return fn(dbc.Tx.WithContext(dbc.Ctx))
	}
	return l.db.WithContext(dbc.Ctx).Transaction(fn)
}

// lockAccount fetches the account row under FOR UPDATE (postgres), creating
// it with the free-tier grant on first touch.
func (l *Ledger) lockAccount(tx *gorm.DB, userID uuid.UUID) (*types.CreditAccount, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("nil user id")
	}
	var acct types.CreditAccount
	q := lockForUpdate(tx).Where("user_id = ?", userID).Limit(1)
	if err := q.Find(&acct).Error; err != nil {
		return nil, err
	}
	if acct.UserID == uuid.Nil {
		now := time.Now()
		acct = types.CreditAccount{
			UserID:    userID,
			Available: initialGrant,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&acct).Error; err != nil {
			return nil, err
		}
	}
	return &acct, nil
}

func (l *Ledger) lockReservation(tx *gorm.DB, id uuid.UUID) (*types.CreditReservation, error) {
	if id == uuid.Nil {
		return nil, ErrReservationNotFound
	}
	var res types.CreditReservation
	if err := lockForUpdate(tx).Where("id = ?", id).Limit(1).Find(&res).Error; err != nil {
		return nil, err
	}
	if res.ID == uuid.Nil {
		return nil, ErrReservationNotFound
	}
	if res.Status == types.ReservationClosed {
		return nil, ErrReservationClosed
	}
	return &res, nil
}

// lockForUpdate applies row locking where the dialect supports it. sqlite
// (tests) serializes on a single connection instead.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
