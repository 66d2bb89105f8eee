package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"payledger/internal/cache"
	"payledger/internal/config"
	"payledger/internal/db"
	"payledger/internal/events"
	"payledger/internal/metrics"
	"payledger/internal/models"
	"payledger/internal/money"
	"payledger/internal/store"
)

type LedgerService struct {
	txRunner     db.TxRunner
	wallets      WalletStore
	transactions TransactionStore
	audit        AuditStore
	cache        BalanceCache
	notifier     Notifier
	pricing      config.PricingConfig
	now          func() time.Time
}

type WalletStore interface {
	CreateIfMissing(ctx context.Context, tx store.Execer, userID string, initialBalance int64) (bool, error)
	Get(ctx context.Context, q store.Getter, userID string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.Wallet, error)
	ApplyMutation(ctx context.Context, tx store.Execer, walletID, balance, credited, debited int64, at time.Time) error
	SetLimits(ctx context.Context, tx store.Execer, walletID int64, daily, monthly *int64) error
	SetActive(ctx context.Context, tx store.Execer, walletID int64, active bool) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Getter, input store.TransactionInput) (models.Transaction, error)
	GetByID(ctx context.Context, id int64) (models.Transaction, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id int64) (models.Transaction, error)
	GetByReference(ctx context.Context, referenceID string) (models.Transaction, error)
	GetByReferenceTx(ctx context.Context, q store.Getter, referenceID string) (models.Transaction, error)
	GetByExternal(ctx context.Context, gateway models.Gateway, externalID string) (models.Transaction, error)
	AttachExternal(ctx context.Context, tx store.Execer, id int64, gateway models.Gateway, externalID string, externalTime *int64, extra models.Metadata, at time.Time) error
	MarkCompleted(ctx context.Context, tx store.Execer, id, balanceBefore, balanceAfter int64, at time.Time) error
	MarkCancelled(ctx context.Context, tx store.Execer, id int64, status models.TransactionStatus, reason *int, note string, at time.Time) error
	MarkFailed(ctx context.Context, tx store.Execer, id int64, reason string) error
	ListByUser(ctx context.Context, userID string, filter store.TransactionFilter) ([]models.Transaction, error)
	ListByGatewayAttachedBetween(ctx context.Context, gateway models.Gateway, from, to time.Time) ([]models.Transaction, error)
	SumCompletedDebits(ctx context.Context, q store.Getter, walletID int64, since time.Time) (int64, error)
	SpendingSummary(ctx context.Context, walletID int64, since time.Time) (store.SpendingSummary, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

// BalanceCache stores balance snapshots under a per-user generation that
// Invalidate advances.
type BalanceCache interface {
	Version(ctx context.Context, userID string) (int64, error)
	Get(ctx context.Context, userID string, version int64, dest any) error
	Set(ctx context.Context, userID string, version int64, value any) error
	Invalidate(ctx context.Context, userID string) error
}

type Notifier interface {
	NotifyBalance(ctx context.Context, event events.BalanceEvent)
}

// NewLedgerService accepts nil cache and notifier.
func NewLedgerService(txRunner db.TxRunner, wallets WalletStore, transactions TransactionStore, audit AuditStore, balanceCache BalanceCache, notifier Notifier, pricing config.PricingConfig) *LedgerService {
	return &LedgerService{
		txRunner:     txRunner,
		wallets:      wallets,
		transactions: transactions,
		audit:        audit,
		cache:        balanceCache,
		notifier:     notifier,
		pricing:      pricing,
		now:          time.Now,
	}
}

// withTx runs fn in a serializable transaction. Failures outside the error
// taxonomy come back wrapped in ErrInternal.
func (s *LedgerService) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return internal(s.txRunner.WithTx(ctx, fn))
}

// Mutation is the outcome of a ledger write. AlreadyProcessed marks an
// idempotent replay: Transaction is the earlier row and nothing was written.
type Mutation struct {
	Transaction      models.Transaction
	Balance          int64
	AlreadyProcessed bool
}

type AddBalanceRequest struct {
	UserID        string
	Amount        int64
	Type          models.TransactionType
	Description   string
	PaymentMethod string
	Gateway       models.Gateway
	ExternalID    string
	Metadata      models.Metadata
	Actor         string
}

type DeductBalanceRequest struct {
	UserID           string
	Amount           int64
	Description      string
	PaymentMethod    string
	Gateway          models.Gateway
	ReferenceID      string
	Metadata         models.Metadata
	SkipBalanceCheck bool
	Actor            string
}

type RefundRequest struct {
	UserID              string
	Amount              int64
	Description         string
	OriginalReferenceID string
	Actor               string
}

type BalanceInfo struct {
	UserID            string     `json:"user_id"`
	Balance           int64      `json:"balance"`
	TotalCredited     int64      `json:"total_credited"`
	TotalDebited      int64      `json:"total_debited"`
	SpentToday        int64      `json:"spent_today"`
	SpentThisMonth    int64      `json:"spent_this_month"`
	DailyLimit        *int64     `json:"daily_limit,omitempty"`
	MonthlyLimit      *int64     `json:"monthly_limit,omitempty"`
	IsActive          bool       `json:"is_active"`
	Currency          string     `json:"currency"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

type HistoryFilter struct {
	Type   *models.TransactionType
	Status *models.TransactionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type SpendingSummary struct {
	PeriodDays       int       `json:"period_days"`
	From             time.Time `json:"from"`
	TotalSpent       int64     `json:"total_spent"`
	TransactionCount int64     `json:"transaction_count"`
	DailyAverage     int64     `json:"daily_average"`
	CurrentBalance   int64     `json:"current_balance"`
}

func (s *LedgerService) NewReferenceID() string {
	return uuid.NewString()
}

func (s *LedgerService) AddBalance(ctx context.Context, req AddBalanceRequest) (Mutation, error) {
	if req.Type == "" {
		req.Type = models.TypeCredit
	}
	if req.Type != models.TypeCredit && req.Type != models.TypeBonus {
		return Mutation{}, fmt.Errorf("%w: type %q cannot be added", ErrInvalidRequest, req.Type)
	}
	result, err := s.credit(ctx, req)
	s.observe("add_balance", req.Amount, result, err)
	return result, err
}

func (s *LedgerService) RefundBalance(ctx context.Context, req RefundRequest) (Mutation, error) {
	description := req.Description
	if description == "" {
		description = "Refund"
	}
	meta := models.Metadata{}
	if req.OriginalReferenceID != "" {
		meta["original_reference_id"] = req.OriginalReferenceID
	}
	result, err := s.credit(ctx, AddBalanceRequest{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Type:          models.TypeRefund,
		Description:   description,
		PaymentMethod: "refund",
		Gateway:       models.GatewayWallet,
		Metadata:      meta,
		Actor:         req.Actor,
	})
	s.observe("refund_balance", req.Amount, result, err)
	return result, err
}

func (s *LedgerService) credit(ctx context.Context, req AddBalanceRequest) (Mutation, error) {
	if req.UserID == "" {
		return Mutation{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return Mutation{}, ErrInvalidAmount
	}
	if req.ExternalID != "" && req.Gateway != "" {
		existing, err := s.transactions.GetByExternal(ctx, req.Gateway, req.ExternalID)
		if err == nil {
			return Mutation{Transaction: existing, Balance: balanceAfter(existing), AlreadyProcessed: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Mutation{}, fmt.Errorf("lookup external id: %w", err)
		}
	}

	var result Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		before := wallet.Balance
		after := before + req.Amount
		if after < before {
			return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
		}
		now := s.now()
		row, err := s.transactions.Create(ctx, tx, store.TransactionInput{
			UserID:        req.UserID,
			WalletID:      wallet.ID,
			Type:          req.Type,
			Status:        models.StatusCompleted,
			Amount:        req.Amount,
			BalanceBefore: &before,
			BalanceAfter:  &after,
			PaymentMethod: req.PaymentMethod,
			Gateway:       gatewayPtr(req.Gateway),
			ReferenceID:   uuid.NewString(),
			ExternalID:    stringPtr(req.ExternalID),
			Description:   req.Description,
			Metadata:      req.Metadata,
			ProcessedAt:   &now,
		})
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: external id %s", ErrAlreadyProcessed, req.ExternalID)
			}
			return fmt.Errorf("insert credit: %w", err)
		}
		if err := s.wallets.ApplyMutation(ctx, tx, wallet.ID, after, req.Amount, 0, now); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		if err := s.auditMutation(ctx, tx, req.Actor, "balance_credit", row); err != nil {
			return err
		}
		result = Mutation{Transaction: row, Balance: after}
		return nil
	})
	if err != nil {
		return Mutation{}, err
	}
	s.afterCommit(ctx, result)
	return result, nil
}

func (s *LedgerService) DeductBalance(ctx context.Context, req DeductBalanceRequest) (Mutation, error) {
	result, err := s.deduct(ctx, req)
	s.observe("deduct_balance", req.Amount, result, err)
	return result, err
}

func (s *LedgerService) deduct(ctx context.Context, req DeductBalanceRequest) (Mutation, error) {
	if req.UserID == "" {
		return Mutation{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return Mutation{}, ErrInvalidAmount
	}
	if req.ReferenceID != "" {
		if _, err := uuid.Parse(req.ReferenceID); err != nil {
			return Mutation{}, fmt.Errorf("%w: reference id must be a uuid", ErrInvalidRequest)
		}
	}

	var result Mutation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		if req.ReferenceID != "" {
			existing, err := s.transactions.GetByReferenceTx(ctx, tx, req.ReferenceID)
			switch {
			case err == nil:
				if existing.UserID != req.UserID || existing.Type != models.TypeDebit {
					return ErrReferenceConflict
				}
				result = Mutation{Transaction: existing, Balance: wallet.Balance, AlreadyProcessed: true}
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("lookup reference: %w", err)
			}
		}
		if !wallet.IsActive {
			return ErrWalletInactive
		}
		if !req.SkipBalanceCheck && wallet.Balance < req.Amount {
			return &InsufficientBalanceError{Required: req.Amount, Available: wallet.Balance}
		}
		if err := s.checkLimits(ctx, tx, wallet, req.Amount); err != nil {
			return err
		}

		reference := req.ReferenceID
		if reference == "" {
			reference = uuid.NewString()
		}
		before := wallet.Balance
		after := before - req.Amount
		now := s.now()
		row, err := s.transactions.Create(ctx, tx, store.TransactionInput{
			UserID:        req.UserID,
			WalletID:      wallet.ID,
			Type:          models.TypeDebit,
			Status:        models.StatusCompleted,
			Amount:        req.Amount,
			BalanceBefore: &before,
			BalanceAfter:  &after,
			PaymentMethod: req.PaymentMethod,
			Gateway:       gatewayPtr(req.Gateway),
			ReferenceID:   reference,
			Description:   req.Description,
			Metadata:      req.Metadata,
			ProcessedAt:   &now,
		})
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrReferenceConflict
			}
			return fmt.Errorf("insert debit: %w", err)
		}
		if err := s.wallets.ApplyMutation(ctx, tx, wallet.ID, after, 0, req.Amount, now); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		if err := s.auditMutation(ctx, tx, req.Actor, "balance_debit", row); err != nil {
			return err
		}
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

// checkLimits projects the debit onto the UTC day and month windows.
func (s *LedgerService) checkLimits(ctx context.Context, tx store.Getter, wallet models.Wallet, amount int64) error {
	now := s.now().UTC()
	windows := []struct {
		period LimitPeriod
		limit  *int64
		since  time.Time
	}{
		{PeriodDaily, wallet.DailyLimit, startOfDay(now)},
		{PeriodMonthly, wallet.MonthlyLimit, startOfMonth(now)},
	}
	for _, w := range windows {
		if w.limit == nil {
			continue
		}
		spent, err := s.transactions.SumCompletedDebits(ctx, tx, wallet.ID, w.since)
		if err != nil {
			return fmt.Errorf("sum %s spend: %w", w.period, err)
		}
		if spent+amount > *w.limit {
			return &LimitExceededError{Period: w.period, Limit: *w.limit, Spent: spent, Requested: amount}
		}
	}
	return nil
}

func (s *LedgerService) GetBalanceInfo(ctx context.Context, userID string) (BalanceInfo, error) {
	if userID == "" {
		return BalanceInfo{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	// The generation is read before the database so a mutation committing
	// mid-read leaves the snapshot below under a superseded generation.
	var version int64
	cacheable := false
	if s.cache != nil {
		v, err := s.cache.Version(ctx, userID)
		if err != nil {
			zap.L().Warn("balance cache version read failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			version, cacheable = v, true
			var cached BalanceInfo
			err = s.cache.Get(ctx, userID, version, &cached)
			if err == nil {
				return cached, nil
			}
			if !errors.Is(err, cache.ErrBalanceNotFound) {
				zap.L().Warn("balance cache read failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	var info BalanceInfo
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		today, err := s.transactions.SumCompletedDebits(ctx, tx, wallet.ID, startOfDay(now))
		if err != nil {
			return fmt.Errorf("sum daily spend: %w", err)
		}
		month, err := s.transactions.SumCompletedDebits(ctx, tx, wallet.ID, startOfMonth(now))
		if err != nil {
			return fmt.Errorf("sum monthly spend: %w", err)
		}
		info = BalanceInfo{
			UserID:            wallet.UserID,
			Balance:           wallet.Balance,
			TotalCredited:     wallet.TotalCredited,
			TotalDebited:      wallet.TotalDebited,
			SpentToday:        today,
			SpentThisMonth:    month,
			DailyLimit:        wallet.DailyLimit,
			MonthlyLimit:      wallet.MonthlyLimit,
			IsActive:          wallet.IsActive,
			Currency:          wallet.Currency,
			LastTransactionAt: wallet.LastTransactionAt,
		}
		return nil
	})
	if err != nil {
		return BalanceInfo{}, err
	}
	if cacheable {
		if err := s.cache.Set(ctx, userID, version, info); err != nil {
			zap.L().Warn("balance cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return info, nil
}

func (s *LedgerService) CheckSufficientBalance(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	info, err := s.GetBalanceInfo(ctx, userID)
	if err != nil {
		return false, err
	}
	return info.IsActive && info.Balance >= amount, nil
}

func (s *LedgerService) GetTransactionHistory(ctx context.Context, userID string, filter HistoryFilter) ([]models.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, *filter.Type)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *filter.Status)
	}
	rows, err := s.transactions.ListByUser(ctx, userID, store.TransactionFilter{
		Type:   filter.Type,
		Status: filter.Status,
		From:   filter.From,
		To:     filter.To,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return rows, nil
}

// SetLimits updates spending limits. A nil value keeps the current limit and
// a value <= 0 clears it.
func (s *LedgerService) SetLimits(ctx context.Context, actor, userID string, daily, monthly *int64) (models.Wallet, error) {
	var updated models.Wallet
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		wallet.DailyLimit = mergeLimit(wallet.DailyLimit, daily)
		wallet.MonthlyLimit = mergeLimit(wallet.MonthlyLimit, monthly)
		if err := s.wallets.SetLimits(ctx, tx, wallet.ID, wallet.DailyLimit, wallet.MonthlyLimit); err != nil {
			return fmt.Errorf("set limits: %w", err)
		}
		data, _ := json.Marshal(map[string]*int64{
			"daily_limit":   wallet.DailyLimit,
			"monthly_limit": wallet.MonthlyLimit,
		})
		if err := s.audit.Log(ctx, tx, actor, "wallet_limits", "wallet", userID, string(data)); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		updated = wallet
		return nil
	})
	if err != nil {
		return models.Wallet{}, err
	}
	s.invalidate(ctx, userID)
	return updated, nil
}

func (s *LedgerService) ActivateWallet(ctx context.Context, actor, userID string) (models.Wallet, error) {
	return s.setActive(ctx, actor, userID, true)
}

func (s *LedgerService) DeactivateWallet(ctx context.Context, actor, userID string) (models.Wallet, error) {
	return s.setActive(ctx, actor, userID, false)
}

func (s *LedgerService) setActive(ctx context.Context, actor, userID string, active bool) (models.Wallet, error) {
	action := "wallet_deactivate"
	if active {
		action = "wallet_activate"
	}
	var updated models.Wallet
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.loadWallet(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		if err := s.wallets.SetActive(ctx, tx, wallet.ID, active); err != nil {
			return fmt.Errorf("set active: %w", err)
		}
		if err := s.audit.Log(ctx, tx, actor, action, "wallet", userID, ""); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		wallet.IsActive = active
		updated = wallet
		return nil
	})
	if err != nil {
		return models.Wallet{}, err
	}
	s.invalidate(ctx, userID)
	zap.L().Info("wallet state changed", zap.String("user_id", userID), zap.Bool("active", active), zap.String("actor", actor))
	return updated, nil
}

func (s *LedgerService) SpendingSummary(ctx context.Context, userID string, days int) (SpendingSummary, error) {
	if days <= 0 {
		days = 30
	}
	var wallet models.Wallet
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		wallet, err = s.loadWallet(ctx, tx, userID, false)
		return err
	})
	if err != nil {
		return SpendingSummary{}, err
	}
	from := s.now().UTC().AddDate(0, 0, -days)
	totals, err := s.transactions.SpendingSummary(ctx, wallet.ID, from)
	if err != nil {
		return SpendingSummary{}, fmt.Errorf("spending summary: %w", err)
	}
	return SpendingSummary{
		PeriodDays:       days,
		From:             from,
		TotalSpent:       totals.TotalSpent,
		TransactionCount: totals.Count,
		DailyAverage:     totals.TotalSpent / int64(days),
		CurrentBalance:   wallet.Balance,
	}, nil
}

// loadWallet reads the user's wallet, creating it with the initial grant on
// first access. With lock set the row stays locked until tx ends.
func (s *LedgerService) loadWallet(ctx context.Context, tx *sqlx.Tx, userID string, lock bool) (models.Wallet, error) {
	if userID == "" {
		return models.Wallet{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	get := s.wallets.Get
	if lock {
		get = s.wallets.GetForUpdate
	}
	wallet, err := get(ctx, tx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Wallet{}, fmt.Errorf("load wallet: %w", err)
	}
	created, err := s.wallets.CreateIfMissing(ctx, tx, userID, s.pricing.InitialBalance)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	wallet, err = get(ctx, tx, userID)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("load wallet: %w", err)
	}
	if created && s.pricing.InitialBalance > 0 {
		before := int64(0)
		after := s.pricing.InitialBalance
		now := s.now()
		if _, err := s.transactions.Create(ctx, tx, store.TransactionInput{
			UserID:        userID,
			WalletID:      wallet.ID,
			Type:          models.TypeBonus,
			Status:        models.StatusCompleted,
			Amount:        after,
			BalanceBefore: &before,
			BalanceAfter:  &after,
			PaymentMethod: "bonus",
			Gateway:       gatewayPtr(models.GatewayAdmin),
			ReferenceID:   uuid.NewString(),
			Description:   "Initial wallet balance",
			Metadata:      models.Metadata{"initial": true},
			ProcessedAt:   &now,
		}); err != nil {
			return models.Wallet{}, fmt.Errorf("record initial balance: %w", err)
		}
		zap.L().Info("wallet created", zap.String("user_id", userID), zap.Int64("initial_balance", after))
	}
	return wallet, nil
}

func (s *LedgerService) auditMutation(ctx context.Context, tx store.Execer, actor, action string, row models.Transaction) error {
	if actor == "" {
		return nil
	}
	data, _ := json.Marshal(map[string]any{
		"reference_id": row.ReferenceID,
		"amount":       row.Amount,
		"description":  row.Description,
	})
	if err := s.audit.Log(ctx, tx, actor, action, "wallet", row.UserID, string(data)); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

func (s *LedgerService) afterCommit(ctx context.Context, m Mutation) {
	row := m.Transaction
	s.invalidate(ctx, row.UserID)
	if s.notifier != nil {
		s.notifier.NotifyBalance(ctx, events.BalanceEvent{
			UserID:      row.UserID,
			WalletID:    row.WalletID,
			ReferenceID: row.ReferenceID,
			Type:        string(row.Type),
			Amount:      money.FormatMinor(row.Amount),
			Balance:     money.FormatMinor(m.Balance),
			Currency:    models.Currency,
			OccurredAt:  s.now().UTC(),
		})
	}
	zap.L().Info("ledger mutation committed",
		zap.String("user_id", row.UserID),
		zap.String("reference_id", row.ReferenceID),
		zap.String("type", string(row.Type)),
		zap.String("status", string(row.Status)),
		zap.Int64("amount", row.Amount),
		zap.Int64("balance", m.Balance),
	)
}

func (s *LedgerService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		zap.L().Warn("balance cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *LedgerService) observe(operation string, amount int64, m Mutation, err error) {
	result := "success"
	switch {
	case err != nil:
		result = Code(err)
	case m.AlreadyProcessed:
		result = "already_processed"
	}
	metrics.RecordLedgerOperation(operation, result, amount)
	if IsInternal(err) {
		zap.L().Error("ledger operation failed", zap.String("operation", operation), zap.Error(err))
	}
}

func mergeLimit(current, requested *int64) *int64 {
	if requested == nil {
		return current
	}
	if *requested <= 0 {
		return nil
	}
	value := *requested
	return &value
}

func balanceAfter(row models.Transaction) int64 {
	if row.BalanceAfter == nil {
		return 0
	}
	return *row.BalanceAfter
}

func gatewayPtr(g models.Gateway) *models.Gateway {
	if g == "" {
		return nil
	}
	return &g
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
