package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkease/internal/db"
	"parkease/internal/errors"
	"parkease/internal/repository"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *ReservationService
	store    repository.Store
	driver   *db.Account
	provider *db.Account
	lot      *db.Lot
}

func newTestEnv(t *testing.T, store repository.Store, totalSlots int) *testEnv {
	t.Helper()
	ctx := context.Background()

	provider := &db.Account{Name: "Lot Owner", Role: db.RoleProvider}
	require.NoError(t, store.CreateAccount(ctx, provider))
	driver := &db.Account{Name: "Dana Driver", Role: db.RoleDriver, BalanceCents: 100_000}
	require.NoError(t, store.CreateAccount(ctx, driver))

	lot := &db.Lot{ProviderID: provider.ID, Name: "Central Garage", TotalSlots: totalSlots, Active: true}
	require.NoError(t, store.CreateLot(ctx, lot))

	svc := NewReservationService(store, NewLedgerService(store, zap.NewNop().Sugar()), NoopNotifier{}, zap.NewNop().Sugar(), DefaultFeeBps)
	svc.now = func() time.Time { return baseTime }

	return &testEnv{svc: svc, store: store, driver: driver, provider: provider, lot: lot}
}

func (e *testEnv) addSlot(t *testing.T, code string, enabled, occupied bool) *db.Slot {
	t.Helper()
	slot := &db.Slot{LotID: e.lot.ID, Code: code, VehicleClass: "standard", Enabled: enabled, Occupied: occupied}
	require.NoError(t, e.store.CreateSlot(context.Background(), slot))
	return slot
}

func (e *testEnv) reserve(t *testing.T, start, end time.Time, amount int64) (*db.Reservation, *db.Payment, error) {
	t.Helper()
	return e.svc.Create(context.Background(), CreateReservationInput{
		DriverID:    e.driver.ID,
		LotID:       e.lot.ID,
		StartTime:   start,
		EndTime:     end,
		VehicleNo:   "KA-01-1234",
		AmountCents: amount,
		Method:      "wallet",
	})
}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestCreate_AssignsFirstFreeSlot(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 0)
	slotA := env.addSlot(t, "A", true, false)
	slotB := env.addSlot(t, "B", true, false)

	// Slot B holds an ACTIVE reservation for [10:00, 11:00).
	require.NoError(t, env.store.CreateReservation(context.Background(), &db.Reservation{
		Code: "seed", DriverID: env.driver.ID, LotID: env.lot.ID, SlotID: slotB.ID,
		StartTime: at(10, 0), EndTime: at(11, 0), Status: db.StatusActive,
	}))

	res, payment, err := env.reserve(t, at(10, 30), at(11, 30), 6000)
	require.NoError(t, err)
	assert.Equal(t, slotA.ID, res.SlotID)
	assert.Equal(t, db.StatusActive, res.Status)
	assert.Equal(t, int64(6000), payment.TotalCents)
}

func TestCreate_BackToBackWindowsShareSlot(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 0)
	slot := env.addSlot(t, "A", true, false)

	first, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)
	require.Equal(t, slot.ID, first.SlotID)

	// [11:00, 12:00) does not intersect [10:00, 11:00) under the half-open rule.
	second, _, err := env.reserve(t, at(11, 0), at(12, 0), 1000)
	require.NoError(t, err)
	assert.Equal(t, slot.ID, second.SlotID)
}

func TestCreate_InvalidWindow(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 2)

	_, _, err := env.reserve(t, at(11, 0), at(10, 0), 1000)
	assert.ErrorIs(t, err, errors.ErrInvalidWindow)

	_, _, err = env.reserve(t, at(10, 0), at(10, 0), 1000)
	assert.ErrorIs(t, err, errors.ErrInvalidWindow)
}

func TestCreate_DefaultsWindowToOneHourFromNow(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 1)

	res, _, err := env.svc.Create(context.Background(), CreateReservationInput{
		DriverID: env.driver.ID, LotID: env.lot.ID, AmountCents: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, baseTime, res.StartTime)
	assert.Equal(t, baseTime.Add(time.Hour), res.EndTime)
}

func TestCreate_InsufficientBalance(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 2)
	ctx := context.Background()
	require.NoError(t, store.AddToBalance(ctx, env.driver.ID, -(env.driver.BalanceCents - 50)))

	_, _, err := env.reserve(t, at(10, 0), at(11, 0), 60)
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	// No partial state: no reservation row, no slots touched.
	reservations, err := store.ReservationsByDriver(ctx, env.driver.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestCreate_LotNotFound(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 2)

	_, _, err := env.svc.Create(context.Background(), CreateReservationInput{
		DriverID: env.driver.ID, LotID: 9999, StartTime: at(10, 0), EndTime: at(11, 0), AmountCents: 1000,
	})
	assert.ErrorIs(t, err, errors.ErrLotNotFound)
}

func TestCreate_InactiveLotRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 2)
	deactivated := &db.Lot{ProviderID: env.provider.ID, Name: "Closed", TotalSlots: 2, Active: false}
	require.NoError(t, store.CreateLot(context.Background(), deactivated))

	_, _, err := env.svc.Create(context.Background(), CreateReservationInput{
		DriverID: env.driver.ID, LotID: deactivated.ID, StartTime: at(10, 0), EndTime: at(11, 0), AmountCents: 1000,
	})
	assert.ErrorIs(t, err, errors.ErrLotNotFound)
}

func TestCreate_AutoProvisionsSlots(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 3)

	res, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)

	slots, err := store.SlotsByLot(context.Background(), env.lot.ID)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "S-01", slots[0].Code)
	assert.Equal(t, "S-03", slots[2].Code)
	assert.Equal(t, slots[0].ID, res.SlotID)
}

func TestCreate_NoAvailableSlot(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 0)
	env.addSlot(t, "A", true, false)

	_, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)

	_, _, err = env.reserve(t, at(10, 30), at(11, 30), 1000)
	assert.ErrorIs(t, err, errors.ErrNoAvailableSlot)
}

func TestCreate_ManualOccupiedFlagBlocksSlot(t *testing.T) {
	// The occupied flag is a manual override layered on the derived signal:
	// a flagged slot is unavailable even with no overlapping reservation.
	env := newTestEnv(t, repository.NewMemoryStore(), 0)
	env.addSlot(t, "A", true, true)
	free := env.addSlot(t, "B", true, false)

	res, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)
	assert.Equal(t, free.ID, res.SlotID)
}

func TestCreate_DisabledSlotSkipped(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 0)
	env.addSlot(t, "A", false, false)
	enabled := env.addSlot(t, "B", true, false)

	res, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)
	assert.Equal(t, enabled.ID, res.SlotID)
}

func TestCreate_FlipsOccupiedWhenWindowCoversNow(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 0)
	slot := env.addSlot(t, "A", true, false)

	_, _, err := env.reserve(t, baseTime, baseTime.Add(time.Hour), 1000)
	require.NoError(t, err)

	slots, err := store.SlotsByLot(context.Background(), env.lot.ID)
	require.NoError(t, err)
	require.Equal(t, slot.ID, slots[0].ID)
	assert.True(t, slots[0].Occupied)
}

func TestCreate_FutureWindowLeavesOccupiedFlagAlone(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 0)
	env.addSlot(t, "A", true, false)

	_, _, err := env.reserve(t, baseTime.Add(2*time.Hour), baseTime.Add(3*time.Hour), 1000)
	require.NoError(t, err)

	slots, err := store.SlotsByLot(context.Background(), env.lot.ID)
	require.NoError(t, err)
	assert.False(t, slots[0].Occupied)
}

func TestCreate_ConcurrentContention(t *testing.T) {
	const slots = 3
	const requests = 10

	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, slots)
	ctx := context.Background()

	// Every request needs its own funded driver.
	drivers := make([]*db.Account, requests)
	for i := range drivers {
		drivers[i] = &db.Account{Name: fmt.Sprintf("driver-%d", i), Role: db.RoleDriver, BalanceCents: 10_000}
		require.NoError(t, store.CreateAccount(ctx, drivers[i]))
	}

	var wg sync.WaitGroup
	results := make([]error, requests)
	assigned := make([]int64, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := env.svc.Create(ctx, CreateReservationInput{
				DriverID:    drivers[i].ID,
				LotID:       env.lot.ID,
				StartTime:   at(10, 0),
				EndTime:     at(11, 0),
				AmountCents: 1000,
			})
			results[i] = err
			if err == nil {
				assigned[i] = res.SlotID
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	seen := make(map[int64]bool)
	for i, err := range results {
		if err == nil {
			succeeded++
			assert.False(t, seen[assigned[i]], "slot %d assigned twice", assigned[i])
			seen[assigned[i]] = true
		} else {
			assert.ErrorIs(t, err, errors.ErrNoAvailableSlot)
		}
	}
	assert.Equal(t, slots, succeeded)
}

func TestCancel_ReleasesSlot(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 1)
	ctx := context.Background()

	res, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)

	_, _, err = env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.ErrorIs(t, err, errors.ErrNoAvailableSlot)

	require.NoError(t, env.svc.Cancel(ctx, res.ID))

	cancelled, err := store.ReservationByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCancelled, cancelled.Status)

	slots, err := store.SlotsByLot(ctx, env.lot.ID)
	require.NoError(t, err)
	assert.False(t, slots[0].Occupied)

	// Same lot and window can be booked again.
	again, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)
	assert.Equal(t, res.SlotID, again.SlotID)
}

func TestCancel_DoesNotRefund(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 1)
	ctx := context.Background()

	res, _, err := env.reserve(t, at(10, 0), at(11, 0), 5000)
	require.NoError(t, err)

	driverBefore, err := store.AccountByID(ctx, env.driver.ID)
	require.NoError(t, err)
	providerBefore, err := store.AccountByID(ctx, env.provider.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(ctx, res.ID))

	driverAfter, err := store.AccountByID(ctx, env.driver.ID)
	require.NoError(t, err)
	providerAfter, err := store.AccountByID(ctx, env.provider.ID)
	require.NoError(t, err)
	assert.Equal(t, driverBefore.BalanceCents, driverAfter.BalanceCents)
	assert.Equal(t, providerBefore.BalanceCents, providerAfter.BalanceCents)
}

func TestTerminalTransitionsAreFinal(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 1)
	ctx := context.Background()

	res, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(ctx, res.ID))
	assert.ErrorIs(t, env.svc.Cancel(ctx, res.ID), errors.ErrAlreadyTerminal)
	assert.ErrorIs(t, env.svc.Complete(ctx, res.ID), errors.ErrAlreadyTerminal)

	res2, _, err := env.reserve(t, at(12, 0), at(13, 0), 1000)
	require.NoError(t, err)
	require.NoError(t, env.svc.Complete(ctx, res2.ID))
	assert.ErrorIs(t, env.svc.Complete(ctx, res2.ID), errors.ErrAlreadyTerminal)
	assert.ErrorIs(t, env.svc.Cancel(ctx, res2.ID), errors.ErrAlreadyTerminal)
}

// paymentFailStore makes every payment insert fail, simulating a storage
// error in the middle of settlement.
type paymentFailStore struct {
	repository.Store
}

func (s *paymentFailStore) ExecTx(ctx context.Context, fn func(repository.Store) error) error {
	return s.Store.ExecTx(ctx, func(tx repository.Store) error {
		return fn(&paymentFailStore{tx})
	})
}

func (s *paymentFailStore) CreatePayment(context.Context, *db.Payment) error {
	return fmt.Errorf("disk on fire")
}

func TestCreate_SettlementFailureRollsBackReservation(t *testing.T) {
	inner := repository.NewMemoryStore()
	store := &paymentFailStore{inner}
	env := newTestEnv(t, store, 1)
	ctx := context.Background()

	_, _, err := env.reserve(t, baseTime, baseTime.Add(time.Hour), 1000)
	require.ErrorIs(t, err, errors.ErrSettlementFailure)

	// Nothing committed: no reservation, slot untouched, balances intact.
	reservations, err := inner.ReservationsByDriver(ctx, env.driver.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)

	slots, err := inner.SlotsByLot(ctx, env.lot.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].Occupied)

	driver, err := inner.AccountByID(ctx, env.driver.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), driver.BalanceCents)

	txs, err := inner.LedgerTransactionsByAccount(ctx, env.driver.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCompleteExpired(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 2)
	ctx := context.Background()

	past, _, err := env.reserve(t, at(6, 0), at(7, 0), 1000)
	require.NoError(t, err)
	future, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)

	completed, err := env.svc.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	got, err := store.ReservationByID(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, got.Status)

	got, err = store.ReservationByID(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusActive, got.Status)
}

func TestAvailability(t *testing.T) {
	env := newTestEnv(t, repository.NewMemoryStore(), 0)
	env.addSlot(t, "A", true, false)
	env.addSlot(t, "B", true, true)
	env.addSlot(t, "C", false, false)

	_, _, err := env.reserve(t, at(10, 0), at(11, 0), 1000)
	require.NoError(t, err)

	avail, err := env.svc.Availability(context.Background(), env.lot.ID, at(10, 30), at(11, 30))
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Total)
	assert.Equal(t, 0, avail.Free)
	assert.Equal(t, 2, avail.Occupied)
	assert.Equal(t, 1, avail.Disabled)

	_, err = env.svc.Availability(context.Background(), env.lot.ID, at(11, 0), at(10, 0))
	assert.ErrorIs(t, err, errors.ErrInvalidWindow)
}

func TestAvailability_InactiveLotRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 2)
	closed := &db.Lot{ProviderID: env.provider.ID, Name: "Closed", TotalSlots: 2, Active: false}
	require.NoError(t, store.CreateLot(context.Background(), closed))

	_, err := env.svc.Availability(context.Background(), closed.ID, at(10, 0), at(11, 0))
	assert.ErrorIs(t, err, errors.ErrLotNotFound)
}

func TestCreate_ConcurrentBookingsCannotOverdrawWallet(t *testing.T) {
	// One driver, two lots, funds for exactly one booking. However the two
	// requests interleave, the conditional debit lets at most one through and
	// the balance never goes negative.
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 1)
	ctx := context.Background()

	otherLot := &db.Lot{ProviderID: env.provider.ID, Name: "Annex", TotalSlots: 1, Active: true}
	require.NoError(t, store.CreateLot(ctx, otherLot))

	require.NoError(t, store.DebitBalance(ctx, env.driver.ID, env.driver.BalanceCents-1000))

	lots := []int64{env.lot.ID, otherLot.ID}
	results := make([]error, len(lots))
	var wg sync.WaitGroup
	for i, lotID := range lots {
		wg.Add(1)
		go func(i int, lotID int64) {
			defer wg.Done()
			_, _, results[i] = env.svc.Create(ctx, CreateReservationInput{
				DriverID: env.driver.ID, LotID: lotID,
				StartTime: at(10, 0), EndTime: at(11, 0), AmountCents: 1000,
			})
		}(i, lotID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded)

	driver, err := store.AccountByID(ctx, env.driver.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), driver.BalanceCents)
}

func TestNoDoubleAllocationInvariant(t *testing.T) {
	// After a burst of bookings and cancellations, no slot holds two ACTIVE
	// reservations with intersecting windows.
	store := repository.NewMemoryStore()
	env := newTestEnv(t, store, 2)
	ctx := context.Background()

	windows := [][2]time.Time{
		{at(10, 0), at(11, 0)},
		{at(10, 30), at(11, 30)},
		{at(11, 0), at(12, 0)},
		{at(10, 45), at(11, 15)},
		{at(12, 0), at(13, 0)},
	}
	var created []*db.Reservation
	for _, w := range windows {
		if res, _, err := env.reserve(t, w[0], w[1], 1000); err == nil {
			created = append(created, res)
		}
	}
	require.NotEmpty(t, created)
	require.NoError(t, env.svc.Cancel(ctx, created[0].ID))
	_, _, _ = env.reserve(t, at(10, 0), at(11, 0), 1000)

	all, err := store.ReservationsByDriver(ctx, env.driver.ID)
	require.NoError(t, err)
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.Status != db.StatusActive || b.Status != db.StatusActive || a.SlotID != b.SlotID {
				continue
			}
			overlap := a.StartTime.Before(b.EndTime) && a.EndTime.After(b.StartTime)
			assert.False(t, overlap, "reservations %s and %s overlap on slot %d", a.Code, b.Code, a.SlotID)
		}
	}
}
