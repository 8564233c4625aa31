package errors

import (
	"errors"
	"net/http"
)

// Business-rule errors are returned synchronously and are not retried by the
// system; the caller must resubmit with different parameters.
var (
	ErrInvalidWindow       = errors.New("invalid window: start must be before end")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoAvailableSlot     = errors.New("no available slot for the requested window")
	ErrLotNotFound         = errors.New("lot not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAlreadyTerminal     = errors.New("reservation is already terminal")
	ErrDuplicatePayment    = errors.New("reservation already settled")

	// ErrSettlementFailure wraps storage or transaction errors raised during
	// the ledger writes. The enclosing transaction is rolled back in full.
	ErrSettlementFailure = errors.New("settlement failure")
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError with the given code and message.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// FromDomain maps a domain error onto the HTTP status the API returns for it.
func FromDomain(err error) *HTTPError {
	switch {
	case errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrInvalidAmount):
		return NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientBalance):
		return NewHTTPError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrNoAvailableSlot):
		return NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrDuplicatePayment):
		return NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrLotNotFound), errors.Is(err, ErrReservationNotFound), errors.Is(err, ErrAccountNotFound):
		return NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
