package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payledger/internal/models"
)

func TestGetBalanceInfoCreatesWalletWithInitialGrant(t *testing.T) {
	h := newHarness()

	info, err := h.service.GetBalanceInfo(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), info.Balance)
	assert.Equal(t, int64(0), info.TotalCredited)
	assert.True(t, info.IsActive)
	assert.Equal(t, models.Currency, info.Currency)

	rows := h.ledger.rowsFor("user-1")
	require.Len(t, rows, 1)
	assert.Equal(t, models.TypeBonus, rows[0].Type)
	assert.Equal(t, models.StatusCompleted, rows[0].Status)
	assert.Equal(t, int64(0), *rows[0].BalanceBefore)
	assert.Equal(t, int64(100000), *rows[0].BalanceAfter)

	_, err = h.service.GetBalanceInfo(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, h.ledger.rowsFor("user-1"), 1, "second read must not grant again")
}

func TestGetBalanceInfoServesFromCache(t *testing.T) {
	h := newHarness()
	h.cache.values[cacheKey("user-1", 0)] = BalanceInfo{UserID: "user-1", Balance: 4242}

	info, err := h.service.GetBalanceInfo(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), info.Balance)
	assert.Empty(t, h.ledger.rowsFor("user-1"))
}

func TestGetBalanceInfoIgnoresSnapshotRacingAMutation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 5000, IsActive: true})

	// A credit commits after the read loaded the wallet but before it cached.
	h.cache.beforeSet = func() {
		_, err := h.service.AddBalance(ctx, AddBalanceRequest{
			UserID: "user-1", Amount: 2500, PaymentMethod: "admin", Gateway: models.GatewayAdmin,
		})
		require.NoError(t, err)
	}
	stale, err := h.service.GetBalanceInfo(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), stale.Balance)

	fresh, err := h.service.GetBalanceInfo(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), fresh.Balance)

	ok, err := h.service.CheckSufficientBalance(ctx, "user-1", 7000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddBalanceCreditsWallet(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 5000, IsActive: true})

	result, err := h.service.AddBalance(context.Background(), AddBalanceRequest{
		UserID: "user-1", Amount: 2500, Description: "manual", PaymentMethod: "admin", Gateway: models.GatewayAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), result.Balance)
	assert.Equal(t, models.TypeCredit, result.Transaction.Type)
	assert.Equal(t, int64(5000), *result.Transaction.BalanceBefore)
	assert.Equal(t, int64(7500), *result.Transaction.BalanceAfter)

	wallet := h.ledger.wallet("user-1")
	assert.Equal(t, int64(7500), wallet.Balance)
	assert.Equal(t, int64(2500), wallet.TotalCredited)
	assert.Equal(t, 1, h.notifier.count())
	assert.Contains(t, h.cache.invalidated, "user-1")
	assert.Equal(t, "75.00", h.notifier.events[0].Balance)
}

func TestAddBalanceRejectsInvalidInput(t *testing.T) {
	h := newHarness()
	_, err := h.service.AddBalance(context.Background(), AddBalanceRequest{UserID: "user-1", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.service.AddBalance(context.Background(), AddBalanceRequest{UserID: "user-1", Amount: 10, Type: models.TypeDebit})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, h.notifier.count())
}

func TestAddBalanceWithExternalIDIsIdempotent(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", IsActive: true})
	req := AddBalanceRequest{UserID: "user-1", Amount: 1000, Gateway: models.GatewayAdmin, ExternalID: "ticket-9"}

	first, err := h.service.AddBalance(context.Background(), req)
	require.NoError(t, err)
	second, err := h.service.AddBalance(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(1000), h.ledger.wallet("user-1").Balance)
}

func TestDeductBalanceScenario(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true})

	result, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{
		UserID: "user-1", Amount: 10000, Description: "transcription", PaymentMethod: "wallet", Gateway: models.GatewayWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90000), result.Balance)

	var debits []models.Transaction
	for _, row := range h.ledger.rowsFor("user-1") {
		if row.Type == models.TypeDebit {
			debits = append(debits, row)
		}
	}
	require.Len(t, debits, 1)
	assert.Equal(t, models.StatusCompleted, debits[0].Status)
	assert.Equal(t, *debits[0].BalanceBefore-debits[0].Amount, *debits[0].BalanceAfter)
}

func TestDeductBalanceInsufficient(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true})

	_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 150000})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(150000), insufficient.Required)
	assert.Equal(t, int64(100000), insufficient.Available)
	assert.Equal(t, "Insufficient balance. Required: 1500.00, Available: 1000.00", err.Error())
	assert.Equal(t, int64(100000), h.ledger.wallet("user-1").Balance)
	assert.Empty(t, h.ledger.rowsFor("user-1"))
}

func TestDeductBalanceSkipCheckAllowsNegative(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100, IsActive: true})

	result, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{
		UserID: "user-1", Amount: 300, SkipBalanceCheck: true, Actor: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-200), result.Balance)
	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, "balance_debit", h.audit.entries[0].action)
}

func TestDeductBalanceInactiveWallet(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: false})

	_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 100})
	assert.ErrorIs(t, err, ErrWalletInactive)
}

func TestDeductBalanceDailyLimit(t *testing.T) {
	h := newHarness()
	daily := int64(15000)
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true, DailyLimit: &daily})

	_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 10000})
	require.NoError(t, err)

	_, err = h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 6000})
	require.ErrorIs(t, err, ErrLimitExceeded)
	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, PeriodDaily, limitErr.Period)
	assert.Equal(t, int64(10000), limitErr.Spent)
	assert.Equal(t, "Daily limit exceeded. Limit: 150.00, Spent today: 100.00", err.Error())

	_, err = h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 5000})
	assert.NoError(t, err, "exactly reaching the limit is allowed")
}

func TestDeductBalanceMonthlyLimitCheckedAfterDaily(t *testing.T) {
	h := newHarness()
	daily := int64(50000)
	monthly := int64(12000)
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true, DailyLimit: &daily, MonthlyLimit: &monthly})

	_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 13000})
	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, PeriodMonthly, limitErr.Period)
}

func TestDeductBalanceReferenceIsIdempotent(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true})
	ref := h.service.NewReferenceID()

	first, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 10000, ReferenceID: ref})
	require.NoError(t, err)
	second, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 10000, ReferenceID: ref})
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(90000), h.ledger.wallet("user-1").Balance)
	assert.Equal(t, 1, h.notifier.count())
}

func TestDeductBalanceReferenceOwnedByAnotherUser(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true})
	h.ledger.seedWallet(models.Wallet{UserID: "user-2", Balance: 100000, IsActive: true})
	ref := h.service.NewReferenceID()

	_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 100, ReferenceID: ref})
	require.NoError(t, err)
	_, err = h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-2", Amount: 100, ReferenceID: ref})
	assert.ErrorIs(t, err, ErrReferenceConflict)
}

func TestDeductBalanceRejectsMalformedReference(t *testing.T) {
	h := newHarness()
	_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 100, ReferenceID: "not-a-uuid"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentDeductsOnlyOneSucceeds(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 10000, IsActive: true})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 7000})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, int64(3000), h.ledger.wallet("user-1").Balance)
}

func TestBalanceMatchesTotalsAfterMixedOperations(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.service.AddBalance(ctx, AddBalanceRequest{UserID: "user-1", Amount: 50000})
	require.NoError(t, err)
	_, err = h.service.DeductBalance(ctx, DeductBalanceRequest{UserID: "user-1", Amount: 30000})
	require.NoError(t, err)
	_, err = h.service.RefundBalance(ctx, RefundRequest{UserID: "user-1", Amount: 5000, OriginalReferenceID: "ref"})
	require.NoError(t, err)
	_, err = h.service.DeductBalance(ctx, DeductBalanceRequest{UserID: "user-1", Amount: 500000})
	require.Error(t, err)
	_, err = h.service.DeductBalance(ctx, DeductBalanceRequest{UserID: "user-1", Amount: 125000})
	require.NoError(t, err)

	wallet := h.ledger.wallet("user-1")
	assert.Equal(t, testPricing.InitialBalance+wallet.TotalCredited-wallet.TotalDebited, wallet.Balance)
	assert.Equal(t, int64(0), wallet.Balance)

	for _, row := range h.ledger.rowsFor("user-1") {
		if row.Status != models.StatusCompleted {
			continue
		}
		assert.Equal(t, row.Type.Sign()*row.Amount, *row.BalanceAfter-*row.BalanceBefore, "row %d", row.ID)
	}
}

func TestRefundBalanceLinksOriginal(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 0, IsActive: true})

	result, err := h.service.RefundBalance(context.Background(), RefundRequest{UserID: "user-1", Amount: 700, OriginalReferenceID: "orig-ref"})
	require.NoError(t, err)
	assert.Equal(t, models.TypeRefund, result.Transaction.Type)
	assert.Equal(t, "orig-ref", result.Transaction.Metadata["original_reference_id"])
	assert.Equal(t, int64(700), result.Balance)
}

func TestCheckSufficientBalance(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 5000, IsActive: true})
	h.ledger.seedWallet(models.Wallet{UserID: "user-2", Balance: 5000, IsActive: false})

	ok, err := h.service.CheckSufficientBalance(context.Background(), "user-1", 5000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.service.CheckSufficientBalance(context.Background(), "user-1", 5001)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.service.CheckSufficientBalance(context.Background(), "user-2", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetTransactionHistoryNewestFirst(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 5000, IsActive: true})
	for _, amount := range []int64{100, 200, 300} {
		_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: amount})
		require.NoError(t, err)
	}
	debit := models.TypeDebit
	rows, err := h.service.GetTransactionHistory(context.Background(), "user-1", HistoryFilter{Type: &debit})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(300), rows[0].Amount)

	bad := models.TransactionType("gift")
	_, err = h.service.GetTransactionHistory(context.Background(), "user-1", HistoryFilter{Type: &bad})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSetLimitsMergesAndClears(t *testing.T) {
	h := newHarness()
	monthly := int64(900000)
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", IsActive: true, MonthlyLimit: &monthly})

	daily := int64(50000)
	wallet, err := h.service.SetLimits(context.Background(), "admin-1", "user-1", &daily, nil)
	require.NoError(t, err)
	require.NotNil(t, wallet.DailyLimit)
	assert.Equal(t, int64(50000), *wallet.DailyLimit)
	require.NotNil(t, wallet.MonthlyLimit)

	zero := int64(0)
	wallet, err = h.service.SetLimits(context.Background(), "admin-1", "user-1", nil, &zero)
	require.NoError(t, err)
	assert.Nil(t, wallet.MonthlyLimit)
	assert.NotNil(t, h.ledger.wallet("user-1").DailyLimit)
	assert.Len(t, h.audit.entries, 2)
}

func TestDeactivateAndActivateWallet(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 5000, IsActive: true})

	wallet, err := h.service.DeactivateWallet(context.Background(), "admin-1", "user-1")
	require.NoError(t, err)
	assert.False(t, wallet.IsActive)
	_, err = h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: 1})
	assert.ErrorIs(t, err, ErrWalletInactive)

	wallet, err = h.service.ActivateWallet(context.Background(), "admin-1", "user-1")
	require.NoError(t, err)
	assert.True(t, wallet.IsActive)
	require.Len(t, h.audit.entries, 2)
	assert.Equal(t, "wallet_deactivate", h.audit.entries[0].action)
	assert.Equal(t, "wallet_activate", h.audit.entries[1].action)
}

func TestSpendingSummary(t *testing.T) {
	h := newHarness()
	h.ledger.seedWallet(models.Wallet{UserID: "user-1", Balance: 100000, IsActive: true})
	for _, amount := range []int64{10000, 20000} {
		_, err := h.service.DeductBalance(context.Background(), DeductBalanceRequest{UserID: "user-1", Amount: amount})
		require.NoError(t, err)
	}

	summary, err := h.service.SpendingSummary(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, summary.PeriodDays)
	assert.Equal(t, int64(30000), summary.TotalSpent)
	assert.Equal(t, int64(2), summary.TransactionCount)
	assert.Equal(t, int64(1000), summary.DailyAverage)
	assert.Equal(t, int64(70000), summary.CurrentBalance)
}

func TestTxRunnerFailureSurfaces(t *testing.T) {
	ledger := newMemLedger(func() time.Time { return fixedNow })
	service := NewLedgerService(fakeTxRunner{err: errors.New("db down")}, ledger.walletStore(), ledger.txStore(), &stubAuditStore{}, nil, nil, testPricing)

	_, err := service.AddBalance(context.Background(), AddBalanceRequest{UserID: "user-1", Amount: 10})
	require.Error(t, err)
	assert.True(t, IsInternal(err))
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, "internal_error", NewResult(Mutation{}, err).ErrorCode)

	_, err = service.FailTopUp(context.Background(), 1, "gateway error")
	assert.ErrorIs(t, err, ErrInternal)
}

func TestInternalKeepsTaxonomyErrors(t *testing.T) {
	assert.NoError(t, internal(nil))
	assert.Equal(t, ErrNotPending, internal(ErrNotPending))

	wrapped := fmt.Errorf("cancel: %w", ErrExternalConflict)
	assert.Equal(t, wrapped, internal(wrapped))

	err := internal(errors.New("pq: deadlock detected"))
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, "internal_error", Code(err))
	assert.Equal(t, err, internal(err))
}
