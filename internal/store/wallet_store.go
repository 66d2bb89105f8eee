package store

import (
	"context"
	"time"

	"payledger/internal/models"
)

type WalletStore struct {
	db DB
}

const walletColumns = `id, user_id, balance, total_credited, total_debited, currency, is_active,
		       daily_limit, monthly_limit, last_transaction_at, created_at, updated_at`

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

// CreateIfMissing inserts a wallet for userID and reports whether a row was created.
// A concurrent creator wins silently through ON CONFLICT.
func (s *WalletStore) CreateIfMissing(ctx context.Context, tx Execer, userID string, initialBalance int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, initialBalance, models.Currency)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *WalletStore) Get(ctx context.Context, q Getter, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := q.GetContext(ctx, &row, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

// GetForUpdate locks the wallet row until the surrounding transaction ends.
func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

// ApplyMutation writes the post-mutation balance and running totals in one statement.
func (s *WalletStore) ApplyMutation(ctx context.Context, tx Execer, walletID, balance, credited, debited int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1,
		    total_credited = total_credited + $2,
		    total_debited = total_debited + $3,
		    last_transaction_at = $4,
		    updated_at = NOW()
		WHERE id = $5
	`, balance, credited, debited, at, walletID)
	return err
}

func (s *WalletStore) SetLimits(ctx context.Context, tx Execer, walletID int64, daily, monthly *int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET daily_limit = $1, monthly_limit = $2, updated_at = NOW()
		WHERE id = $3
	`, daily, monthly, walletID)
	return err
}

func (s *WalletStore) SetActive(ctx context.Context, tx Execer, walletID int64, active bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET is_active = $1, updated_at = NOW()
		WHERE id = $2
	`, active, walletID)
	return err
}
