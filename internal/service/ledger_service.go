package service

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"parkease/internal/db"
	"parkease/internal/errors"
	"parkease/internal/repository"
)

// DefaultFeeBps is the observed platform cut: 10% in basis points.
const DefaultFeeBps = 1000

// LedgerService owns every money movement: reservation settlement plus the
// wallet top-up and withdrawal operations. The balance column on accounts is a
// projection of the append-only ledger: it is only ever mutated next to the
// ledger row that explains the change, inside one transaction.
type LedgerService struct {
	store repository.Store
	log   *zap.SugaredLogger
}

func NewLedgerService(store repository.Store, log *zap.SugaredLogger) *LedgerService {
	return &LedgerService{store: store, log: log}
}

// Settle splits totalCents between platform and provider and applies the five
// settlement writes through tx: the Payment row, the driver debit plus its
// DEBIT ledger row, and the provider credit plus its CREDIT ledger row.
// tx must be a transaction-bound Store; any error aborts the whole unit, so
// settlement is never partially applied. The driver debit is conditional on
// sufficient funds, so a concurrent booking on another lot cannot overdraw the
// wallet; insufficiency surfaces as ErrInsufficientBalance, not a settlement
// failure.
func (s *LedgerService) Settle(ctx context.Context, tx repository.Store, res *db.Reservation, providerID, totalCents, feeBps int64, method string) (*db.Payment, error) {
	platformFee := totalCents * feeBps / 10000
	providerEarning := totalCents - platformFee

	payment := &db.Payment{
		ReservationID:     res.ID,
		TotalCents:        totalCents,
		PlatformFeeCents:  platformFee,
		ProviderEarnCents: providerEarning,
		Method:            method,
		Status:            db.PaymentPaid,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, s.fail("create payment", res, err)
	}

	if err := tx.DebitBalance(ctx, res.DriverID, totalCents); err != nil {
		if stderrors.Is(err, errors.ErrInsufficientBalance) || stderrors.Is(err, errors.ErrAccountNotFound) {
			return nil, err
		}
		return nil, s.fail("debit driver", res, err)
	}
	if err := tx.CreateLedgerTransaction(ctx, &db.LedgerTransaction{
		AccountID:   res.DriverID,
		AmountCents: totalCents,
		Direction:   db.DirectionDebit,
		Memo:        fmt.Sprintf("Payment for reservation %s", res.Code),
	}); err != nil {
		return nil, s.fail("append driver ledger row", res, err)
	}

	if err := tx.AddToBalance(ctx, providerID, providerEarning); err != nil {
		return nil, s.fail("credit provider", res, err)
	}
	if err := tx.CreateLedgerTransaction(ctx, &db.LedgerTransaction{
		AccountID:   providerID,
		AmountCents: providerEarning,
		Direction:   db.DirectionCredit,
		Memo:        fmt.Sprintf("Earnings from reservation %s", res.Code),
	}); err != nil {
		return nil, s.fail("append provider ledger row", res, err)
	}

	return payment, nil
}

// TopUp credits the account's wallet and appends the matching CREDIT ledger
// row in one transaction.
func (s *LedgerService) TopUp(ctx context.Context, accountID, amountCents int64) (*db.Account, error) {
	if amountCents <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	var account *db.Account
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		if err := tx.AddToBalance(ctx, accountID, amountCents); err != nil {
			return err
		}
		if err := tx.CreateLedgerTransaction(ctx, &db.LedgerTransaction{
			AccountID:   accountID,
			AmountCents: amountCents,
			Direction:   db.DirectionCredit,
			Memo:        "Wallet top-up",
		}); err != nil {
			return err
		}
		var err error
		account, err = tx.AccountByID(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("wallet topped up", "account", accountID, "amount_cents", amountCents)
	return account, nil
}

// Withdraw debits the account's wallet if funds suffice and appends the
// matching DEBIT ledger row in one transaction.
func (s *LedgerService) Withdraw(ctx context.Context, accountID, amountCents int64) (*db.Account, error) {
	if amountCents <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	var account *db.Account
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		if err := tx.DebitBalance(ctx, accountID, amountCents); err != nil {
			return err
		}
		if err := tx.CreateLedgerTransaction(ctx, &db.LedgerTransaction{
			AccountID:   accountID,
			AmountCents: amountCents,
			Direction:   db.DirectionDebit,
			Memo:        "Wallet withdrawal",
		}); err != nil {
			return err
		}
		var err error
		account, err = tx.AccountByID(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("wallet withdrawal", "account", accountID, "amount_cents", amountCents)
	return account, nil
}

// Wallet returns an account with its ledger history, newest first.
func (s *LedgerService) Wallet(ctx context.Context, accountID int64) (*db.Account, []db.LedgerTransaction, error) {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.store.LedgerTransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return account, txs, nil
}

func (s *LedgerService) fail(step string, res *db.Reservation, err error) error {
	s.log.Errorw("settlement failed, rolling back", "step", step, "reservation", res.Code, "error", err)
	return fmt.Errorf("%w: %s: %v", errors.ErrSettlementFailure, step, err)
}
