package store

import (
	"context"
	"strconv"
	"time"

	"payledger/internal/models"
)

type TransactionStore struct {
	db DB
}

const transactionColumns = `id, user_id, wallet_id, type, status, amount, balance_before, balance_after,
		       payment_method, gateway, reference_id, external_id, external_time, external_attached_at,
		       description, metadata, failed_reason, cancel_reason, created_at, updated_at,
		       processed_at, cancelled_at`

type TransactionInput struct {
	UserID        string
	WalletID      int64
	Type          models.TransactionType
	Status        models.TransactionStatus
	Amount        int64
	BalanceBefore *int64
	BalanceAfter  *int64
	PaymentMethod string
	Gateway       *models.Gateway
	ReferenceID   string
	ExternalID    *string
	Description   string
	Metadata      models.Metadata
	ProcessedAt   *time.Time
}

// TransactionFilter narrows history reads; nil fields are ignored.
type TransactionFilter struct {
	Type   *models.TransactionType
	Status *models.TransactionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Getter, input TransactionInput) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		INSERT INTO transactions (user_id, wallet_id, type, status, amount, balance_before, balance_after,
		                          payment_method, gateway, reference_id, external_id, description, metadata, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+transactionColumns,
		input.UserID, input.WalletID, input.Type, input.Status, input.Amount, input.BalanceBefore, input.BalanceAfter,
		input.PaymentMethod, input.Gateway, input.ReferenceID, input.ExternalID, input.Description, input.Metadata, input.ProcessedAt,
	)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id int64) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) GetForUpdate(ctx context.Context, tx Getter, id int64) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) GetByReference(ctx context.Context, referenceID string) (models.Transaction, error) {
	return s.GetByReferenceTx(ctx, s.db, referenceID)
}

func (s *TransactionStore) GetByReferenceTx(ctx context.Context, q Getter, referenceID string) (models.Transaction, error) {
	var row models.Transaction
	err := q.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE reference_id = $1`, referenceID)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) GetByExternal(ctx context.Context, gateway models.Gateway, externalID string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE gateway = $1 AND external_id = $2
	`, gateway, externalID)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// AttachExternal binds the gateway's id to a pending row. The partial unique
// index on (gateway, external_id) rejects a second row claiming the same id.
func (s *TransactionStore) AttachExternal(ctx context.Context, tx Execer, id int64, gateway models.Gateway, externalID string, externalTime *int64, extra models.Metadata, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET gateway = $1, external_id = $2, external_time = $3, external_attached_at = $4,
		    payment_method = $1, metadata = metadata || $5::jsonb, updated_at = NOW()
		WHERE id = $6
	`, gateway, externalID, externalTime, at, extra, id)
	return err
}

func (s *TransactionStore) MarkCompleted(ctx context.Context, tx Execer, id, balanceBefore, balanceAfter int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'completed', balance_before = $1, balance_after = $2, processed_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'pending'
	`, balanceBefore, balanceAfter, at, id)
	return err
}

// MarkCancelled moves a row to cancelled or refunded; balance columns are left untouched.
func (s *TransactionStore) MarkCancelled(ctx context.Context, tx Execer, id int64, status models.TransactionStatus, reason *int, note string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, cancel_reason = $2, failed_reason = NULLIF($3, ''), cancelled_at = $4, updated_at = NOW()
		WHERE id = $5
	`, status, reason, note, at, id)
	return err
}

func (s *TransactionStore) MarkFailed(ctx context.Context, tx Execer, id int64, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'failed', failed_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, reason, id)
	return err
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += " AND type = $" + itoa(len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += " AND status = $" + itoa(len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += " AND created_at >= $" + itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += " AND created_at < $" + itoa(len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + itoa(len(args)-1) + " OFFSET $" + itoa(len(args))

	rows := []models.Transaction{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByGatewayAttachedBetween returns rows bound to an external id whose
// attach time (falling back to created_at) lies in [from, to).
func (s *TransactionStore) ListByGatewayAttachedBetween(ctx context.Context, gateway models.Gateway, from, to time.Time) ([]models.Transaction, error) {
	rows := []models.Transaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE gateway = $1 AND external_id IS NOT NULL
			AND COALESCE(external_attached_at, created_at) >= $2
			AND COALESCE(external_attached_at, created_at) < $3
		ORDER BY COALESCE(external_attached_at, created_at) ASC, id ASC
	`, gateway, from, to)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SumCompletedDebits totals completed debits of a wallet created at or after since.
func (s *TransactionStore) SumCompletedDebits(ctx context.Context, q Getter, walletID int64, since time.Time) (int64, error) {
	var sum int64
	err := q.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE wallet_id = $1 AND type = 'debit' AND status = 'completed' AND created_at >= $2
	`, walletID, since)
	return sum, err
}

type SpendingSummary struct {
	TotalSpent int64 `db:"total_spent"`
	Count      int64 `db:"count"`
}

func (s *TransactionStore) SpendingSummary(ctx context.Context, walletID int64, since time.Time) (SpendingSummary, error) {
	var row SpendingSummary
	err := s.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(amount), 0) AS total_spent, COUNT(*) AS count
		FROM transactions
		WHERE wallet_id = $1 AND type = 'debit' AND status = 'completed' AND created_at >= $2
	`, walletID, since)
	return row, err
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
