package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"payledger/internal/db"
	"payledger/internal/models"
	"payledger/internal/store"
)

type TopUpRequest struct {
	UserID  string
	Amount  int64
	Gateway models.Gateway
}

// CreateTopUp opens a pending credit that a gateway later completes or cancels.
func (s *LedgerService) CreateTopUp(ctx context.Context, req TopUpRequest) (models.Transaction, error) {
	if req.Gateway != models.GatewayClick && req.Gateway != models.GatewayPayme {
		return models.Transaction{}, ErrInvalidGateway
	}
	if req.Amount < s.pricing.MinPaymentAmount || req.Amount > s.pricing.MaxPaymentAmount {
		return models.Transaction{}, fmt.Errorf("%w: top-up must be between %d and %d",
			ErrInvalidAmount, s.pricing.MinPaymentAmount, s.pricing.MaxPaymentAmount)
	}
	var row models.Transaction
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return ErrWalletInactive
		}
		row, err = s.transactions.Create(ctx, tx, store.TransactionInput{
			UserID:        req.UserID,
			WalletID:      wallet.ID,
			Type:          models.TypeCredit,
			Status:        models.StatusPending,
			Amount:        req.Amount,
			PaymentMethod: string(req.Gateway),
			ReferenceID:   uuid.NewString(),
			Description:   "Wallet top-up via " + string(req.Gateway),
			Metadata:      models.Metadata{"intended_gateway": string(req.Gateway)},
		})
		if err != nil {
			return fmt.Errorf("insert top-up: %w", err)
		}
		return nil
	})
	s.observe("create_topup", req.Amount, Mutation{}, err)
	if err != nil {
		return models.Transaction{}, err
	}
	zap.L().Info("top-up created",
		zap.String("user_id", req.UserID),
		zap.String("reference_id", row.ReferenceID),
		zap.String("gateway", string(req.Gateway)),
		zap.Int64("amount", req.Amount),
	)
	return row, nil
}

func (s *LedgerService) FindByID(ctx context.Context, id int64) (models.Transaction, error) {
	row, err := s.transactions.GetByID(ctx, id)
	return row, notFound(err)
}

// FindByReference treats a malformed reference as unknown rather than an error.
func (s *LedgerService) FindByReference(ctx context.Context, referenceID string) (models.Transaction, error) {
	if _, err := uuid.Parse(referenceID); err != nil {
		return models.Transaction{}, ErrTransactionNotFound
	}
	row, err := s.transactions.GetByReference(ctx, referenceID)
	return row, notFound(err)
}

func (s *LedgerService) FindByExternal(ctx context.Context, gateway models.Gateway, externalID string) (models.Transaction, error) {
	if externalID == "" {
		return models.Transaction{}, ErrTransactionNotFound
	}
	row, err := s.transactions.GetByExternal(ctx, gateway, externalID)
	return row, notFound(err)
}

// ListGatewayTransactions returns the gateway's bound rows attached in [from, to).
func (s *LedgerService) ListGatewayTransactions(ctx context.Context, gateway models.Gateway, from, to time.Time) ([]models.Transaction, error) {
	if !to.After(from) {
		return []models.Transaction{}, nil
	}
	rows, err := s.transactions.ListByGatewayAttachedBetween(ctx, gateway, from, to)
	if err != nil {
		return nil, fmt.Errorf("list gateway transactions: %w", err)
	}
	return rows, nil
}

// AttachExternal binds the gateway's own id to a pending top-up and merges
// extra into its metadata. Repeating the same binding is a no-op; a different
// binding is ErrExternalConflict.
func (s *LedgerService) AttachExternal(ctx context.Context, id int64, gateway models.Gateway, externalID string, externalTime *int64, extra models.Metadata) (models.Transaction, error) {
	if externalID == "" {
		return models.Transaction{}, fmt.Errorf("%w: external id is required", ErrInvalidRequest)
	}
	var row models.Transaction
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.transactions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return notFound(err)
		}
		if current.ExternalID != nil {
			if current.GatewayIs(gateway) && *current.ExternalID == externalID {
				row = current
				return nil
			}
			return ErrExternalConflict
		}
		if current.Status != models.StatusPending {
			return ErrNotPending
		}
		now := s.now()
		if err := s.transactions.AttachExternal(ctx, tx, id, gateway, externalID, externalTime, extra, now); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrExternalConflict
			}
			return fmt.Errorf("attach external id: %w", err)
		}
		current.Gateway = &gateway
		current.ExternalID = &externalID
		current.ExternalTime = externalTime
		current.ExternalAttachedAt = &now
		current.PaymentMethod = string(gateway)
		if current.Metadata == nil {
			current.Metadata = models.Metadata{}
		}
		for k, v := range extra {
			current.Metadata[k] = v
		}
		row = current
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// CompleteTopUp credits a pending top-up exactly once.
func (s *LedgerService) CompleteTopUp(ctx context.Context, id int64, gateway models.Gateway) (Mutation, error) {
	result, err := s.completeTopUp(ctx, id, gateway)
	s.observe("complete_topup", result.Transaction.Amount, result, err)
	return result, err
}

func (s *LedgerService) completeTopUp(ctx context.Context, id int64, gateway models.Gateway) (Mutation, error) {
	head, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return Mutation{}, notFound(err)
	}
	var result Mutation
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, head.UserID, true)
		if err != nil {
			return err
		}
		row, err := s.transactions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return notFound(err)
		}
		if gateway != "" && row.Gateway != nil && *row.Gateway != gateway {
			return ErrExternalConflict
		}
		switch row.Status {
		case models.StatusCompleted:
			result = Mutation{Transaction: row, Balance: wallet.Balance, AlreadyProcessed: true}
			return nil
		case models.StatusPending:
		default:
			return ErrNotPending
		}
		if row.Type != models.TypeCredit {
			return ErrNotPending
		}
		before := wallet.Balance
		after := before + row.Amount
		now := s.now()
		if err := s.wallets.ApplyMutation(ctx, tx, wallet.ID, after, row.Amount, 0, now); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		if err := s.transactions.MarkCompleted(ctx, tx, row.ID, before, after, now); err != nil {
			return fmt.Errorf("complete top-up: %w", err)
		}
		row.Status = models.StatusCompleted
		row.BalanceBefore = &before
		row.BalanceAfter = &after
		row.ProcessedAt = &now
		result = Mutation{Transaction: row, Balance: after}
		return nil
	})
	if err != nil {
		return Mutation{}, err
	}
	if !result.AlreadyProcessed {
		s.afterCommit(ctx, result)
	}
	return result, nil
}

// CancelTopUp moves a pending top-up to cancelled without touching the wallet.
func (s *LedgerService) CancelTopUp(ctx context.Context, id int64, reason *int, note string) (Mutation, error) {
	var result Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := s.transactions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return notFound(err)
		}
		switch row.Status {
		case models.StatusCancelled, models.StatusFailed:
			result = Mutation{Transaction: row, AlreadyProcessed: true}
			return nil
		case models.StatusPending:
		default:
			return ErrNotPending
		}
		now := s.now()
		if err := s.transactions.MarkCancelled(ctx, tx, row.ID, models.StatusCancelled, reason, note, now); err != nil {
			return fmt.Errorf("cancel top-up: %w", err)
		}
		row.Status = models.StatusCancelled
		row.CancelReason = reason
		row.CancelledAt = &now
		if note != "" {
			row.FailedReason = &note
		}
		result = Mutation{Transaction: row}
		return nil
	})
	s.observe("cancel_topup", 0, result, err)
	if err != nil {
		return Mutation{}, err
	}
	if !result.AlreadyProcessed {
		zap.L().Info("top-up cancelled",
			zap.String("reference_id", result.Transaction.ReferenceID),
			zap.String("note", note),
		)
	}
	return result, nil
}

// FailTopUp marks a pending top-up failed after the gateway reported an
// unsuccessful payment. The wallet is not touched.
func (s *LedgerService) FailTopUp(ctx context.Context, id int64, reason string) (Mutation, error) {
	var result Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := s.transactions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return notFound(err)
		}
		switch row.Status {
		case models.StatusFailed:
			result = Mutation{Transaction: row, AlreadyProcessed: true}
			return nil
		case models.StatusPending:
		default:
			return ErrNotPending
		}
		if err := s.transactions.MarkFailed(ctx, tx, row.ID, reason); err != nil {
			return fmt.Errorf("fail top-up: %w", err)
		}
		row.Status = models.StatusFailed
		row.FailedReason = &reason
		result = Mutation{Transaction: row}
		return nil
	})
	s.observe("fail_topup", 0, result, err)
	if err != nil {
		return Mutation{}, err
	}
	if !result.AlreadyProcessed {
		zap.L().Warn("top-up failed",
			zap.String("reference_id", result.Transaction.ReferenceID),
			zap.String("reason", reason),
		)
	}
	return result, nil
}

// ReverseTopUp refunds a completed top-up: the original row becomes refunded
// and a completed compensating debit takes the money back out.
func (s *LedgerService) ReverseTopUp(ctx context.Context, id int64, reason *int, note string) (Mutation, error) {
	result, err := s.reverseTopUp(ctx, id, reason, note)
	s.observe("reverse_topup", result.Transaction.Amount, result, err)
	return result, err
}

func (s *LedgerService) reverseTopUp(ctx context.Context, id int64, reason *int, note string) (Mutation, error) {
	head, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return Mutation{}, notFound(err)
	}
	var result Mutation
	var reversal models.Transaction
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, head.UserID, true)
		if err != nil {
			return err
		}
		row, err := s.transactions.GetForUpdate(ctx, tx, id)
		if err != nil {
			return notFound(err)
		}
		switch row.Status {
		case models.StatusRefunded:
			result = Mutation{Transaction: row, Balance: wallet.Balance, AlreadyProcessed: true}
			return nil
		case models.StatusCompleted:
		default:
			return ErrNotPending
		}
		if wallet.Balance < row.Amount {
			return &InsufficientBalanceError{Required: row.Amount, Available: wallet.Balance}
		}
		before := wallet.Balance
		after := before - row.Amount
		now := s.now()
		meta := models.Metadata{"reverses": row.ReferenceID}
		if reason != nil {
			meta["reason"] = *reason
		}
		reversal, err = s.transactions.Create(ctx, tx, store.TransactionInput{
			UserID:        row.UserID,
			WalletID:      wallet.ID,
			Type:          models.TypeDebit,
			Status:        models.StatusCompleted,
			Amount:        row.Amount,
			BalanceBefore: &before,
			BalanceAfter:  &after,
			PaymentMethod: row.PaymentMethod,
			Gateway:       row.Gateway,
			ReferenceID:   uuid.NewString(),
			Description:   "Reversal of top-up " + row.ReferenceID,
			Metadata:      meta,
			ProcessedAt:   &now,
		})
		if err != nil {
			return fmt.Errorf("insert reversal: %w", err)
		}
		if err := s.wallets.ApplyMutation(ctx, tx, wallet.ID, after, 0, row.Amount, now); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		if err := s.transactions.MarkCancelled(ctx, tx, row.ID, models.StatusRefunded, reason, note, now); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		row.Status = models.StatusRefunded
		row.CancelReason = reason
		row.CancelledAt = &now
		result = Mutation{Transaction: row, Balance: after}
		return nil
	})
	if err != nil {
		return Mutation{}, err
	}
	if !result.AlreadyProcessed {
		s.afterCommit(ctx, Mutation{Transaction: reversal, Balance: result.Balance})
	}
	return result, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTransactionNotFound
	}
	if err != nil {
		return internal(fmt.Errorf("load transaction: %w", err))
	}
	return nil
}
