package api

import (
	"encoding/json"
	"time"

	"parkease/internal/db"
	"parkease/internal/service"
)

// CreateReservationRequest is the one explicit booking schema. Historic
// clients spell some keys differently; those aliases are normalized here, at
// the boundary, and nowhere else.
type CreateReservationRequest struct {
	LotID       int64
	StartTime   time.Time
	EndTime     time.Time
	VehicleNo   string
	AmountCents int64
	Method      string
}

func (r *CreateReservationRequest) UnmarshalJSON(b []byte) error {
	var aux struct {
		LotID        *int64     `json:"lot_id"`
		LotIDCamel   *int64     `json:"lotId"`
		ParkingLotID *int64     `json:"parkingLotId"`
		StartTime    *time.Time `json:"start_time"`
		EndTime      *time.Time `json:"end_time"`
		VehicleNo    string     `json:"vehicle_no"`
		VehicleNum   string     `json:"vehicleNumber"`
		VehiclePlate string     `json:"vehicle_plate"`
		AmountCents  *int64     `json:"amount_cents"`
		AmountCamel  *int64     `json:"amountCents"`
		TotalAmount  *int64     `json:"total_amount_cents"`
		Method       string     `json:"method"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	for _, id := range []*int64{aux.LotID, aux.LotIDCamel, aux.ParkingLotID} {
		if id != nil {
			r.LotID = *id
			break
		}
	}
	if aux.StartTime != nil {
		r.StartTime = *aux.StartTime
	}
	if aux.EndTime != nil {
		r.EndTime = *aux.EndTime
	}
	for _, v := range []string{aux.VehicleNo, aux.VehicleNum, aux.VehiclePlate} {
		if v != "" {
			r.VehicleNo = v
			break
		}
	}
	for _, amt := range []*int64{aux.AmountCents, aux.AmountCamel, aux.TotalAmount} {
		if amt != nil {
			r.AmountCents = *amt
			break
		}
	}
	r.Method = aux.Method
	return nil
}

type ReservationResponse struct {
	ID          int64     `json:"reservation_id"`
	Code        string    `json:"code"`
	LotID       int64     `json:"lot_id"`
	SlotID      int64     `json:"slot_id"`
	VehicleNo   string    `json:"vehicle_no"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

func toReservationResponse(r *db.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:          r.ID,
		Code:        r.Code,
		LotID:       r.LotID,
		SlotID:      r.SlotID,
		VehicleNo:   r.VehicleNo,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Status:      r.Status,
		AmountCents: r.AmountCents,
		CreatedAt:   r.CreatedAt,
	}
}

type PaymentResponse struct {
	PaymentID         int64  `json:"payment_id"`
	TotalCents        int64  `json:"total_cents"`
	PlatformFeeCents  int64  `json:"platform_fee_cents"`
	ProviderEarnCents int64  `json:"provider_earn_cents"`
	Status            string `json:"status"`
}

type AvailabilityResponse struct {
	LotID     int64     `json:"lot_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Total     int       `json:"total_slots"`
	Free      int       `json:"free_slots"`
	Occupied  int       `json:"occupied_slots"`
	Disabled  int       `json:"disabled_slots"`
	Available bool      `json:"available"`
}

func toAvailabilityResponse(a *service.LotAvailability) AvailabilityResponse {
	return AvailabilityResponse{
		LotID:     a.LotID,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Total:     a.Total,
		Free:      a.Free,
		Occupied:  a.Occupied,
		Disabled:  a.Disabled,
		Available: a.Free > 0,
	}
}

type LedgerTransactionResponse struct {
	ID          int64     `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Direction   string    `json:"direction"`
	Memo        string    `json:"memo"`
	CreatedAt   time.Time `json:"created_at"`
}

type WalletResponse struct {
	AccountID    int64                       `json:"account_id"`
	BalanceCents int64                       `json:"balance_cents"`
	Transactions []LedgerTransactionResponse `json:"transactions"`
}
