package api

import (
	"context"
	"encoding/json"
	"net/http"

	"parkease/internal/auth"
	"parkease/internal/db"
	"parkease/internal/service"
)

type WalletHandler struct {
	Ledger *service.LedgerService
}

func NewWalletHandler(ledger *service.LedgerService) *WalletHandler {
	return &WalletHandler{Ledger: ledger}
}

// WalletAmountRequest carries the amount for a top-up or withdrawal.
type WalletAmountRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	account, txs, err := h.Ledger.Wallet(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := WalletResponse{
		AccountID:    account.ID,
		BalanceCents: account.BalanceCents,
		Transactions: make([]LedgerTransactionResponse, 0, len(txs)),
	}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, LedgerTransactionResponse{
			ID:          t.ID,
			AmountCents: t.AmountCents,
			Direction:   t.Direction,
			Memo:        t.Memo,
			CreatedAt:   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *WalletHandler) AddMoney(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Ledger.TopUp)
}

func (h *WalletHandler) WithdrawMoney(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Ledger.Withdraw)
}

func (h *WalletHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, accountID, amountCents int64) (*db.Account, error)) {
	accountID, ok := auth.AccountID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req WalletAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	account, err := op(r.Context(), accountID, req.AmountCents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":    account.ID,
		"balance_cents": account.BalanceCents,
	})
}
