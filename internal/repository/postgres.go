package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"parkease/internal/db"
	"parkease/internal/errors"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore implements Store over database/sql with the lib/pq driver.
type PostgresStore struct {
	pool *sql.DB
	q    dbtx
}

func NewPostgresStore(pool *sql.DB) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// ExecTx begins a transaction and runs fn against a transaction-bound copy of
// the store. Nested calls reuse the enclosing transaction.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	bound := &PostgresStore{pool: s.pool, q: tx}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) AccountByID(ctx context.Context, id int64) (*db.Account, error) {
	var a db.Account
	query := `SELECT id, name, email, phone, role, balance_cents, created_at FROM accounts WHERE id = $1`
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.Email, &a.Phone, &a.Role, &a.BalanceCents, &a.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account %d: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *db.Account) error {
	query := `
		INSERT INTO accounts (name, email, phone, role, balance_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at`
	err := s.q.QueryRowContext(ctx, query, a.Name, a.Email, a.Phone, a.Role, a.BalanceCents).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddToBalance(ctx context.Context, accountID, deltaCents int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + $1 WHERE id = $2`,
		deltaCents, accountID)
	if err != nil {
		return fmt.Errorf("updating balance of account %d: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

// DebitBalance folds the funds check into the UPDATE itself, so two
// concurrent debits of the same account through different transactions
// cannot both pass a stale balance read.
func (s *PostgresStore) DebitBalance(ctx context.Context, accountID, amountCents int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents - $1 WHERE id = $2 AND balance_cents >= $1`,
		amountCents, accountID)
	if err != nil {
		return fmt.Errorf("debiting account %d: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}
	if _, err := s.AccountByID(ctx, accountID); err != nil {
		return err
	}
	return errors.ErrInsufficientBalance
}

func (s *PostgresStore) LedgerTransactionsByAccount(ctx context.Context, accountID int64) ([]db.LedgerTransaction, error) {
	query := `
		SELECT id, account_id, amount_cents, direction, memo, created_at
		FROM ledger_transactions WHERE account_id = $1 ORDER BY id DESC`
	rows, err := s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying ledger of account %d: %w", accountID, err)
	}
	defer rows.Close()

	var txs []db.LedgerTransaction
	for rows.Next() {
		var t db.LedgerTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.AmountCents, &t.Direction, &t.Memo, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) CreateLedgerTransaction(ctx context.Context, t *db.LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions (account_id, amount_cents, direction, memo, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`
	err := s.q.QueryRowContext(ctx, query, t.AccountID, t.AmountCents, t.Direction, t.Memo).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending ledger transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateLot(ctx context.Context, l *db.Lot) error {
	query := `
		INSERT INTO lots (provider_id, name, address, total_slots, active, latitude, longitude, base_price_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at`
	err := s.q.QueryRowContext(ctx, query,
		l.ProviderID, l.Name, l.Address, l.TotalSlots, l.Active, l.Latitude, l.Longitude, l.BasePriceCents,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating lot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LotByID(ctx context.Context, lotID int64) (*db.Lot, error) {
	return s.scanLot(ctx, `
		SELECT id, provider_id, name, address, total_slots, active, latitude, longitude, base_price_cents, created_at
		FROM lots WHERE id = $1`, lotID)
}

// LotForUpdate takes the row-level exclusive lock that serializes the
// check-then-act slot selection per lot.
func (s *PostgresStore) LotForUpdate(ctx context.Context, lotID int64) (*db.Lot, error) {
	return s.scanLot(ctx, `
		SELECT id, provider_id, name, address, total_slots, active, latitude, longitude, base_price_cents, created_at
		FROM lots WHERE id = $1 FOR UPDATE`, lotID)
}

func (s *PostgresStore) scanLot(ctx context.Context, query string, lotID int64) (*db.Lot, error) {
	var l db.Lot
	err := s.q.QueryRowContext(ctx, query, lotID).Scan(
		&l.ID, &l.ProviderID, &l.Name, &l.Address, &l.TotalSlots, &l.Active,
		&l.Latitude, &l.Longitude, &l.BasePriceCents, &l.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrLotNotFound
		}
		return nil, fmt.Errorf("querying lot %d: %w", lotID, err)
	}
	return &l, nil
}

func (s *PostgresStore) CreateSlot(ctx context.Context, slot *db.Slot) error {
	query := `
		INSERT INTO slots (lot_id, code, vehicle_class, occupied, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at`
	err := s.q.QueryRowContext(ctx, query,
		slot.LotID, slot.Code, slot.VehicleClass, slot.Occupied, slot.Enabled,
	).Scan(&slot.ID, &slot.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("slot '%s' already exists in lot %d: %w", slot.Code, slot.LotID, err)
		}
		return fmt.Errorf("creating slot: %w", err)
	}
	return nil
}

func (s *PostgresStore) SlotsByLot(ctx context.Context, lotID int64) ([]db.Slot, error) {
	query := `
		SELECT id, lot_id, code, vehicle_class, occupied, enabled, created_at
		FROM slots WHERE lot_id = $1 ORDER BY id`
	rows, err := s.q.QueryContext(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("querying slots of lot %d: %w", lotID, err)
	}
	defer rows.Close()

	var slots []db.Slot
	for rows.Next() {
		var slot db.Slot
		if err := rows.Scan(&slot.ID, &slot.LotID, &slot.Code, &slot.VehicleClass, &slot.Occupied, &slot.Enabled, &slot.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *PostgresStore) SetSlotOccupied(ctx context.Context, slotID int64, occupied bool) error {
	_, err := s.q.ExecContext(ctx, `UPDATE slots SET occupied = $1 WHERE id = $2`, occupied, slotID)
	if err != nil {
		return fmt.Errorf("updating occupied flag of slot %d: %w", slotID, err)
	}
	return nil
}

func (s *PostgresStore) CreateReservation(ctx context.Context, r *db.Reservation) error {
	query := `
		INSERT INTO reservations
		(code, driver_id, lot_id, slot_id, vehicle_no, start_time, end_time, status, amount_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	err := s.q.QueryRowContext(ctx, query,
		r.Code, r.DriverID, r.LotID, r.SlotID, r.VehicleNo,
		r.StartTime, r.EndTime, r.Status, r.AmountCents,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating reservation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReservationByID(ctx context.Context, id int64) (*db.Reservation, error) {
	var r db.Reservation
	query := `
		SELECT id, code, driver_id, lot_id, slot_id, vehicle_no, start_time, end_time, status, amount_cents, created_at, updated_at
		FROM reservations WHERE id = $1`
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Code, &r.DriverID, &r.LotID, &r.SlotID, &r.VehicleNo,
		&r.StartTime, &r.EndTime, &r.Status, &r.AmountCents, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrReservationNotFound
		}
		return nil, fmt.Errorf("querying reservation %d: %w", id, err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateReservationStatus(ctx context.Context, id int64, status string, updatedAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reservations SET status = $1, updated_at = $2 WHERE id = $3`,
		status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("updating status of reservation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.ErrReservationNotFound
	}
	return nil
}

func (s *PostgresStore) OccupiedSlotIDs(ctx context.Context, lotID int64, start, end time.Time) (map[int64]bool, error) {
	query := `
		SELECT DISTINCT slot_id FROM reservations
		WHERE lot_id = $1
		  AND status = $2
		  AND start_time < $3
		  AND end_time > $4`
	rows, err := s.q.QueryContext(ctx, query, lotID, db.StatusActive, end, start)
	if err != nil {
		return nil, fmt.Errorf("querying occupied slots of lot %d: %w", lotID, err)
	}
	defer rows.Close()

	occupied := make(map[int64]bool)
	for rows.Next() {
		var slotID int64
		if err := rows.Scan(&slotID); err != nil {
			return nil, fmt.Errorf("scanning occupied slot id: %w", err)
		}
		occupied[slotID] = true
	}
	return occupied, rows.Err()
}

func (s *PostgresStore) ActiveReservationIDsPastEnd(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM reservations WHERE status = $1 AND end_time < $2`,
		db.StatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("querying active reservations past end time: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ReservationsByDriver(ctx context.Context, driverID int64) ([]db.Reservation, error) {
	query := `
		SELECT id, code, driver_id, lot_id, slot_id, vehicle_no, start_time, end_time, status, amount_cents, created_at, updated_at
		FROM reservations WHERE driver_id = $1 ORDER BY id DESC`
	rows, err := s.q.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("querying reservations of driver %d: %w", driverID, err)
	}
	defer rows.Close()

	var reservations []db.Reservation
	for rows.Next() {
		var r db.Reservation
		if err := rows.Scan(
			&r.ID, &r.Code, &r.DriverID, &r.LotID, &r.SlotID, &r.VehicleNo,
			&r.StartTime, &r.EndTime, &r.Status, &r.AmountCents, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p *db.Payment) error {
	query := `
		INSERT INTO payments (reservation_id, total_cents, platform_fee_cents, provider_earn_cents, method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`
	err := s.q.QueryRowContext(ctx, query,
		p.ReservationID, p.TotalCents, p.PlatformFeeCents, p.ProviderEarnCents, p.Method, p.Status,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" &&
			pqErr.Constraint == "payments_reservation_id_key" {
			return errors.ErrDuplicatePayment
		}
		return fmt.Errorf("creating payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) PaymentByReservation(ctx context.Context, reservationID int64) (*db.Payment, error) {
	var p db.Payment
	query := `
		SELECT id, reservation_id, total_cents, platform_fee_cents, provider_earn_cents, method, status, created_at
		FROM payments WHERE reservation_id = $1`
	err := s.q.QueryRowContext(ctx, query, reservationID).Scan(
		&p.ID, &p.ReservationID, &p.TotalCents, &p.PlatformFeeCents, &p.ProviderEarnCents,
		&p.Method, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment for reservation %d not found: %w", reservationID, err)
		}
		return nil, fmt.Errorf("querying payment: %w", err)
	}
	return &p, nil
}
