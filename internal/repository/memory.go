package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parkease/internal/db"
	"parkease/internal/errors"
)

// MemoryStore is an in-memory Store for tests and local demos. A single mutex
// serializes every ExecTx unit, which gives the same per-lot serializability
// the Postgres row lock gives, and writes are rolled back from a snapshot
// taken at transaction begin.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	accounts     map[int64]db.Account
	lots         map[int64]db.Lot
	slots        map[int64]db.Slot
	reservations map[int64]db.Reservation
	payments     map[int64]db.Payment
	ledger       []db.LedgerTransaction
	nextID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		accounts:     make(map[int64]db.Account),
		lots:         make(map[int64]db.Lot),
		slots:        make(map[int64]db.Slot),
		reservations: make(map[int64]db.Reservation),
		payments:     make(map[int64]db.Payment),
		nextID:       1,
	}}
}

func (d *memData) clone() *memData {
	c := &memData{
		accounts:     make(map[int64]db.Account, len(d.accounts)),
		lots:         make(map[int64]db.Lot, len(d.lots)),
		slots:        make(map[int64]db.Slot, len(d.slots)),
		reservations: make(map[int64]db.Reservation, len(d.reservations)),
		payments:     make(map[int64]db.Payment, len(d.payments)),
		ledger:       append([]db.LedgerTransaction(nil), d.ledger...),
		nextID:       d.nextID,
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.lots {
		c.lots[k] = v
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

func (m *MemoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) nextID() int64 {
	id := m.data.nextID
	m.data.nextID++
	return id
}

// ExecTx serializes the unit under the store mutex and restores the
// pre-transaction snapshot if fn fails. Nested calls reuse the open unit.
func (m *MemoryStore) ExecTx(_ context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.data.clone()
	bound := &MemoryStore{data: m.data, inTx: true}
	if err := fn(bound); err != nil {
		*m.data = *snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) AccountByID(_ context.Context, id int64) (*db.Account, error) {
	defer m.lock()()
	a, ok := m.data.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return &a, nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, a *db.Account) error {
	defer m.lock()()
	a.ID = m.nextID()
	a.CreatedAt = time.Now().UTC()
	m.data.accounts[a.ID] = *a
	return nil
}

func (m *MemoryStore) AddToBalance(_ context.Context, accountID, deltaCents int64) error {
	defer m.lock()()
	a, ok := m.data.accounts[accountID]
	if !ok {
		return errors.ErrAccountNotFound
	}
	a.BalanceCents += deltaCents
	m.data.accounts[accountID] = a
	return nil
}

func (m *MemoryStore) DebitBalance(_ context.Context, accountID, amountCents int64) error {
	defer m.lock()()
	a, ok := m.data.accounts[accountID]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if a.BalanceCents < amountCents {
		return errors.ErrInsufficientBalance
	}
	a.BalanceCents -= amountCents
	m.data.accounts[accountID] = a
	return nil
}

func (m *MemoryStore) LedgerTransactionsByAccount(_ context.Context, accountID int64) ([]db.LedgerTransaction, error) {
	defer m.lock()()
	var txs []db.LedgerTransaction
	for i := len(m.data.ledger) - 1; i >= 0; i-- {
		if m.data.ledger[i].AccountID == accountID {
			txs = append(txs, m.data.ledger[i])
		}
	}
	return txs, nil
}

func (m *MemoryStore) CreateLedgerTransaction(_ context.Context, t *db.LedgerTransaction) error {
	defer m.lock()()
	t.ID = m.nextID()
	t.CreatedAt = time.Now().UTC()
	m.data.ledger = append(m.data.ledger, *t)
	return nil
}

func (m *MemoryStore) CreateLot(_ context.Context, l *db.Lot) error {
	defer m.lock()()
	l.ID = m.nextID()
	l.CreatedAt = time.Now().UTC()
	m.data.lots[l.ID] = *l
	return nil
}

func (m *MemoryStore) LotByID(_ context.Context, lotID int64) (*db.Lot, error) {
	defer m.lock()()
	l, ok := m.data.lots[lotID]
	if !ok {
		return nil, errors.ErrLotNotFound
	}
	return &l, nil
}

func (m *MemoryStore) LotForUpdate(ctx context.Context, lotID int64) (*db.Lot, error) {
	return m.LotByID(ctx, lotID)
}

func (m *MemoryStore) CreateSlot(_ context.Context, s *db.Slot) error {
	defer m.lock()()
	s.ID = m.nextID()
	s.CreatedAt = time.Now().UTC()
	m.data.slots[s.ID] = *s
	return nil
}

func (m *MemoryStore) SlotsByLot(_ context.Context, lotID int64) ([]db.Slot, error) {
	defer m.lock()()
	var slots []db.Slot
	for _, s := range m.data.slots {
		if s.LotID == lotID {
			slots = append(slots, s)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	return slots, nil
}

func (m *MemoryStore) SetSlotOccupied(_ context.Context, slotID int64, occupied bool) error {
	defer m.lock()()
	s, ok := m.data.slots[slotID]
	if !ok {
		return fmt.Errorf("slot %d not found", slotID)
	}
	s.Occupied = occupied
	m.data.slots[slotID] = s
	return nil
}

func (m *MemoryStore) CreateReservation(_ context.Context, r *db.Reservation) error {
	defer m.lock()()
	r.ID = m.nextID()
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.data.reservations[r.ID] = *r
	return nil
}

func (m *MemoryStore) ReservationByID(_ context.Context, id int64) (*db.Reservation, error) {
	defer m.lock()()
	r, ok := m.data.reservations[id]
	if !ok {
		return nil, errors.ErrReservationNotFound
	}
	return &r, nil
}

func (m *MemoryStore) UpdateReservationStatus(_ context.Context, id int64, status string, updatedAt time.Time) error {
	defer m.lock()()
	r, ok := m.data.reservations[id]
	if !ok {
		return errors.ErrReservationNotFound
	}
	r.Status = status
	r.UpdatedAt = updatedAt
	m.data.reservations[id] = r
	return nil
}

func (m *MemoryStore) OccupiedSlotIDs(_ context.Context, lotID int64, start, end time.Time) (map[int64]bool, error) {
	defer m.lock()()
	occupied := make(map[int64]bool)
	for _, r := range m.data.reservations {
		if r.LotID == lotID && r.Status == db.StatusActive &&
			r.StartTime.Before(end) && r.EndTime.After(start) {
			occupied[r.SlotID] = true
		}
	}
	return occupied, nil
}

func (m *MemoryStore) ActiveReservationIDsPastEnd(_ context.Context, now time.Time) ([]int64, error) {
	defer m.lock()()
	var ids []int64
	for _, r := range m.data.reservations {
		if r.Status == db.StatusActive && r.EndTime.Before(now) {
			ids = append(ids, r.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) ReservationsByDriver(_ context.Context, driverID int64) ([]db.Reservation, error) {
	defer m.lock()()
	var reservations []db.Reservation
	for _, r := range m.data.reservations {
		if r.DriverID == driverID {
			reservations = append(reservations, r)
		}
	}
	sort.Slice(reservations, func(i, j int) bool { return reservations[i].ID > reservations[j].ID })
	return reservations, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, p *db.Payment) error {
	defer m.lock()()
	for _, existing := range m.data.payments {
		if existing.ReservationID == p.ReservationID {
			return errors.ErrDuplicatePayment
		}
	}
	p.ID = m.nextID()
	p.CreatedAt = time.Now().UTC()
	m.data.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) PaymentByReservation(_ context.Context, reservationID int64) (*db.Payment, error) {
	defer m.lock()()
	for _, p := range m.data.payments {
		if p.ReservationID == reservationID {
			return &p, nil
		}
	}
	return nil, errors.ErrReservationNotFound
}
