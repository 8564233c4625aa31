package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"parkease/internal/auth"
	"parkease/internal/errors"
	"parkease/internal/service"
)

type ReservationHandler struct {
	Service *service.ReservationService
}

func NewReservationHandler(svc *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{Service: svc}
}

func (h *ReservationHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	driverID, ok := auth.AccountID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.LotID == 0 || req.AmountCents <= 0 {
		http.Error(w, "lot id and a positive amount are required", http.StatusBadRequest)
		return
	}

	reservation, payment, err := h.Service.Create(r.Context(), service.CreateReservationInput{
		DriverID:    driverID,
		LotID:       req.LotID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		VehicleNo:   req.VehicleNo,
		AmountCents: req.AmountCents,
		Method:      req.Method,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reservation": toReservationResponse(reservation),
		"payment": PaymentResponse{
			PaymentID:         payment.ID,
			TotalCents:        payment.TotalCents,
			PlatformFeeCents:  payment.PlatformFeeCents,
			ProviderEarnCents: payment.ProviderEarnCents,
			Status:            payment.Status,
		},
	})
}

func (h *ReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reservation id", http.StatusBadRequest)
		return
	}
	reservation, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(reservation))
}

func (h *ReservationHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	driverID, ok := auth.AccountID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	reservations, err := h.Service.ListByDriver(r.Context(), driverID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ReservationResponse, 0, len(reservations))
	for i := range reservations {
		out = append(out, toReservationResponse(&reservations[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ReservationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reservation id", http.StatusBadRequest)
		return
	}
	if err := h.Service.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reservation cancelled"})
}

func (h *ReservationHandler) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reservation id", http.StatusBadRequest)
		return
	}
	if err := h.Service.Complete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reservation completed"})
}

func (h *ReservationHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(mux.Vars(r)["lot_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid lot id", http.StatusBadRequest)
		return
	}
	start, end, err := windowParams(r)
	if err != nil {
		http.Error(w, "start and end must be RFC3339 timestamps", http.StatusBadRequest)
		return
	}
	availability, err := h.Service.Availability(r.Context(), lotID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityResponse(availability))
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// windowParams reads the start/end query parameters, defaulting to the next
// hour from now when absent.
func windowParams(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start, end := now, now.Add(service.DefaultWindow)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
		end = start.Add(service.DefaultWindow)
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = parsed
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	httpErr := errors.FromDomain(err)
	http.Error(w, httpErr.Message, httpErr.Code)
}
