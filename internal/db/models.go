package db

import "time"

// Reservation statuses. ACTIVE is the only non-terminal state.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Ledger transaction directions.
const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// Account roles.
const (
	RoleDriver   = "driver"
	RoleProvider = "provider"
)

// Payment statuses.
const (
	PaymentPaid = "paid"
)

type Account struct {
	ID           int64
	Name         string
	Email        string
	Phone        string
	Role         string
	BalanceCents int64
	CreatedAt    time.Time
}

type Lot struct {
	ID             int64
	ProviderID     int64
	Name           string
	Address        string
	TotalSlots     int
	Active         bool
	Latitude       float64
	Longitude      float64
	BasePriceCents int64
	CreatedAt      time.Time
}

type Slot struct {
	ID           int64
	LotID        int64
	Code         string
	VehicleClass string
	// Occupied is the physical presence signal; Enabled is the independent
	// maintenance flag. Scheduling availability is derived from ACTIVE
	// reservations, with Occupied acting as a manual override on top.
	Occupied  bool
	Enabled   bool
	CreatedAt time.Time
}

type Reservation struct {
	ID          int64
	Code        string
	DriverID    int64
	LotID       int64
	SlotID      int64
	VehicleNo   string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	AmountCents int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Payment struct {
	ID                int64
	ReservationID     int64
	TotalCents        int64
	PlatformFeeCents  int64
	ProviderEarnCents int64
	Method            string
	Status            string
	CreatedAt         time.Time
}

// LedgerTransaction is append-only: rows are inserted next to the balance
// mutation they explain and are never updated or deleted.
type LedgerTransaction struct {
	ID          int64
	AccountID   int64
	AmountCents int64
	Direction   string
	Memo        string
	CreatedAt   time.Time
}

// Terminal reports whether a reservation can no longer transition.
func (r *Reservation) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}
