package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkease/internal/db"
	"parkease/internal/errors"
	"parkease/internal/repository"
)

// nowEpsilon widens the "window covers now" check so a reservation starting
// at the current minute flips the physical occupied flag immediately.
const nowEpsilon = time.Minute

// DefaultWindow is applied when the caller omits the end time.
const DefaultWindow = time.Hour

// ReservationService is the coordinator and lifecycle for reservations: it
// validates requests, selects a free slot under per-lot mutual exclusion,
// records the reservation, and settles payment in the same transaction.
type ReservationService struct {
	store    repository.Store
	ledger   *LedgerService
	notifier Notifier
	log      *zap.SugaredLogger
	feeBps   int64
	now      func() time.Time
}

func NewReservationService(store repository.Store, ledger *LedgerService, notifier Notifier, log *zap.SugaredLogger, feeBps int64) *ReservationService {
	if feeBps <= 0 {
		feeBps = DefaultFeeBps
	}
	return &ReservationService{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
		feeBps:   feeBps,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateReservationInput struct {
	DriverID    int64
	LotID       int64
	StartTime   time.Time
	EndTime     time.Time
	VehicleNo   string
	AmountCents int64
	Method      string
}

// Create runs the whole booking as one atomic unit: slot selection, the
// reservation row, the occupied flag, and settlement commit together or not
// at all. Serialization per lot comes from the exclusive lock LotForUpdate
// takes inside the transaction.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (*db.Reservation, *db.Payment, error) {
	now := s.now()
	if in.StartTime.IsZero() {
		in.StartTime = now
	}
	if in.EndTime.IsZero() {
		in.EndTime = in.StartTime.Add(DefaultWindow)
	}
	if !in.StartTime.Before(in.EndTime) {
		reservationsFailed.WithLabelValues("invalid_window").Inc()
		return nil, nil, errors.ErrInvalidWindow
	}

	var (
		reservation *db.Reservation
		payment     *db.Payment
	)
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		lot, err := tx.LotForUpdate(ctx, in.LotID)
		if err != nil {
			return err
		}
		if !lot.Active {
			return errors.ErrLotNotFound
		}

		// The driver's funds are checked by the conditional debit inside
		// settlement, not read here: a balance read would be stale the moment
		// a concurrent debit on another lot commits.
		slots, err := tx.SlotsByLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			if slots, err = s.provisionSlots(ctx, tx, lot); err != nil {
				return err
			}
		}

		occupied, err := tx.OccupiedSlotIDs(ctx, lot.ID, in.StartTime, in.EndTime)
		if err != nil {
			return err
		}

		// First free slot in ascending slot-ID order. A slot must clear both
		// occupancy signals: no overlapping ACTIVE reservation, and no manual
		// occupied override.
		var chosen *db.Slot
		for i := range slots {
			slot := &slots[i]
			if slot.Enabled && !slot.Occupied && !occupied[slot.ID] {
				chosen = slot
				break
			}
		}
		if chosen == nil {
			return errors.ErrNoAvailableSlot
		}

		reservation = &db.Reservation{
			Code:        uuid.NewString(),
			DriverID:    in.DriverID,
			LotID:       lot.ID,
			SlotID:      chosen.ID,
			VehicleNo:   in.VehicleNo,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			Status:      db.StatusActive,
			AmountCents: in.AmountCents,
		}
		if err := tx.CreateReservation(ctx, reservation); err != nil {
			return err
		}

		if windowCoversNow(in.StartTime, in.EndTime, now) {
			if err := tx.SetSlotOccupied(ctx, chosen.ID, true); err != nil {
				return err
			}
		}

		payment, err = s.ledger.Settle(ctx, tx, reservation, lot.ProviderID, in.AmountCents, s.feeBps, in.Method)
		return err
	})
	if err != nil {
		reservationsFailed.WithLabelValues(failureReason(err)).Inc()
		return nil, nil, err
	}

	reservationsCreated.Inc()
	settledCents.Add(float64(payment.TotalCents))
	s.log.Infow("reservation confirmed",
		"code", reservation.Code, "lot", reservation.LotID, "slot", reservation.SlotID,
		"amount_cents", payment.TotalCents)
	go s.notifier.ReservationConfirmed(*reservation, *payment)
	return reservation, payment, nil
}

// provisionSlots bootstraps a lot that declares capacity but has no slot rows
// yet. It runs inside the caller's transaction under the lot lock, so the
// bootstrap happens exactly once.
func (s *ReservationService) provisionSlots(ctx context.Context, tx repository.Store, lot *db.Lot) ([]db.Slot, error) {
	slots := make([]db.Slot, 0, lot.TotalSlots)
	for i := 1; i <= lot.TotalSlots; i++ {
		slot := db.Slot{
			LotID:        lot.ID,
			Code:         fmt.Sprintf("S-%02d", i),
			VehicleClass: "standard",
			Enabled:      true,
		}
		if err := tx.CreateSlot(ctx, &slot); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	s.log.Infow("provisioned slots", "lot", lot.ID, "count", len(slots))
	return slots, nil
}

// Get returns a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id int64) (*db.Reservation, error) {
	return s.store.ReservationByID(ctx, id)
}

// ListByDriver returns the driver's reservations, newest first.
func (s *ReservationService) ListByDriver(ctx context.Context, driverID int64) ([]db.Reservation, error) {
	return s.store.ReservationsByDriver(ctx, driverID)
}

// Cancel transitions ACTIVE → CANCELLED and releases the slot. The already
// settled payment is not reversed.
func (s *ReservationService) Cancel(ctx context.Context, id int64) error {
	res, err := s.terminate(ctx, id, db.StatusCancelled)
	if err != nil {
		return err
	}
	go s.notifier.ReservationCancelled(*res)
	return nil
}

// Complete transitions ACTIVE → COMPLETED and releases the slot.
func (s *ReservationService) Complete(ctx context.Context, id int64) error {
	_, err := s.terminate(ctx, id, db.StatusCompleted)
	return err
}

func (s *ReservationService) terminate(ctx context.Context, id int64, status string) (*db.Reservation, error) {
	var res *db.Reservation
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		var err error
		res, err = tx.ReservationByID(ctx, id)
		if err != nil {
			return err
		}
		if res.Terminal() {
			return errors.ErrAlreadyTerminal
		}
		now := s.now()
		if err := tx.UpdateReservationStatus(ctx, id, status, now); err != nil {
			return err
		}
		if err := tx.SetSlotOccupied(ctx, res.SlotID, false); err != nil {
			return err
		}
		res.Status = status
		res.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("reservation terminated", "code", res.Code, "status", status)
	return res, nil
}

// CompleteExpired completes every ACTIVE reservation whose window has closed.
// Used by the cron sweep; each reservation goes through the normal lifecycle
// so its slot is released.
func (s *ReservationService) CompleteExpired(ctx context.Context) (int, error) {
	ids, err := s.store.ActiveReservationIDsPastEnd(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("listing expired reservations: %w", err)
	}
	completed := 0
	for _, id := range ids {
		if err := s.Complete(ctx, id); err != nil {
			s.log.Errorw("failed to complete expired reservation", "id", id, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

// LotAvailability summarizes a lot's slots for a window.
type LotAvailability struct {
	LotID     int64
	StartTime time.Time
	EndTime   time.Time
	Total     int
	Free      int
	Occupied  int
	Disabled  int
}

// Availability reports how many of the lot's slots are free for the window.
// Read-only; the answer is advisory and can be stale by the time a booking
// request lands.
func (s *ReservationService) Availability(ctx context.Context, lotID int64, start, end time.Time) (*LotAvailability, error) {
	if !start.Before(end) {
		return nil, errors.ErrInvalidWindow
	}
	lot, err := s.store.LotByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if !lot.Active {
		return nil, errors.ErrLotNotFound
	}
	slots, err := s.store.SlotsByLot(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	occupied, err := s.store.OccupiedSlotIDs(ctx, lot.ID, start, end)
	if err != nil {
		return nil, err
	}

	avail := &LotAvailability{LotID: lot.ID, StartTime: start, EndTime: end, Total: len(slots)}
	if len(slots) == 0 {
		// Lot not bootstrapped yet: every declared slot is free.
		avail.Total = lot.TotalSlots
		avail.Free = lot.TotalSlots
		return avail, nil
	}
	for _, slot := range slots {
		switch {
		case !slot.Enabled:
			avail.Disabled++
		case slot.Occupied || occupied[slot.ID]:
			avail.Occupied++
		default:
			avail.Free++
		}
	}
	return avail, nil
}

func windowCoversNow(start, end, now time.Time) bool {
	return !start.After(now.Add(nowEpsilon)) && end.After(now)
}
