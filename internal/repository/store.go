package repository

import (
	"context"
	"time"

	"parkease/internal/db"
)

// Store is the persistence surface the reservation and ledger services run
// against. The Postgres implementation backs production; the in-memory one
// backs tests and local demos.
//
// Every method called inside ExecTx sees the transaction's own state, and all
// writes commit or roll back together. LotForUpdate is the per-lot
// serialization point: two concurrent ExecTx units touching the same lot
// cannot interleave between reading occupancy and inserting a reservation.
type Store interface {
	// ExecTx runs fn against a transaction-bound Store. A non-nil error from
	// fn rolls every write back and is returned unchanged.
	ExecTx(ctx context.Context, fn func(Store) error) error

	// Accounts.
	AccountByID(ctx context.Context, id int64) (*db.Account, error)
	CreateAccount(ctx context.Context, a *db.Account) error
	// AddToBalance must only be called next to a CreateLedgerTransaction for
	// the same account inside the same transaction; the balance column is a
	// projection of the ledger.
	AddToBalance(ctx context.Context, accountID, deltaCents int64) error
	// DebitBalance subtracts amountCents only if the account holds at least
	// that much, failing with ErrInsufficientBalance otherwise. The check and
	// the write are one atomic statement, so a concurrent debit through
	// another transaction cannot drive the balance negative. Same ledger-row
	// pairing rule as AddToBalance.
	DebitBalance(ctx context.Context, accountID, amountCents int64) error
	LedgerTransactionsByAccount(ctx context.Context, accountID int64) ([]db.LedgerTransaction, error)
	CreateLedgerTransaction(ctx context.Context, t *db.LedgerTransaction) error

	// Lots and slots.
	CreateLot(ctx context.Context, l *db.Lot) error
	// LotByID is a plain read for paths that do not mutate occupancy.
	LotByID(ctx context.Context, lotID int64) (*db.Lot, error)
	// LotForUpdate loads the lot and takes an exclusive row lock on it for
	// the remainder of the transaction. Only valid inside ExecTx.
	LotForUpdate(ctx context.Context, lotID int64) (*db.Lot, error)
	CreateSlot(ctx context.Context, s *db.Slot) error
	// SlotsByLot returns the lot's slots in ascending slot-ID order.
	SlotsByLot(ctx context.Context, lotID int64) ([]db.Slot, error)
	SetSlotOccupied(ctx context.Context, slotID int64, occupied bool) error

	// Reservations.
	CreateReservation(ctx context.Context, r *db.Reservation) error
	ReservationByID(ctx context.Context, id int64) (*db.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status string, updatedAt time.Time) error
	// OccupiedSlotIDs returns the slots of the lot holding an ACTIVE
	// reservation that intersects [start, end) under the closed-form rule
	// existing.start < end AND existing.end > start.
	OccupiedSlotIDs(ctx context.Context, lotID int64, start, end time.Time) (map[int64]bool, error)
	// ActiveReservationIDsPastEnd lists ACTIVE reservations whose window has
	// already closed, for the expiry sweep.
	ActiveReservationIDsPastEnd(ctx context.Context, now time.Time) ([]int64, error)
	ReservationsByDriver(ctx context.Context, driverID int64) ([]db.Reservation, error)

	// Payments.
	CreatePayment(ctx context.Context, p *db.Payment) error
	PaymentByReservation(ctx context.Context, reservationID int64) (*db.Payment, error)
}
