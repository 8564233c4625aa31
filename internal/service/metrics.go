package service

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"parkease/internal/errors"
)

var (
	reservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parkease_reservations_created_total",
		Help: "Reservations confirmed and settled.",
	})
	reservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parkease_reservations_failed_total",
		Help: "Reservation requests rejected, by reason.",
	}, []string{"reason"})
	settledCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parkease_settled_cents_total",
		Help: "Total amount settled through the ledger, in cents.",
	})
)

func failureReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrInvalidWindow):
		return "invalid_window"
	case stderrors.Is(err, errors.ErrInsufficientBalance):
		return "insufficient_balance"
	case stderrors.Is(err, errors.ErrNoAvailableSlot):
		return "no_available_slot"
	case stderrors.Is(err, errors.ErrLotNotFound):
		return "lot_not_found"
	case stderrors.Is(err, errors.ErrSettlementFailure):
		return "settlement_failure"
	default:
		return "storage_error"
	}
}
