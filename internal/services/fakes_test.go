package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"payledger/internal/cache"
	"payledger/internal/config"
	"payledger/internal/events"
	"payledger/internal/models"
	"payledger/internal/store"
)

// fakeTxRunner serializes callers the way a wallet row lock would.
type fakeTxRunner struct {
	err error
	mu  *sync.Mutex
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	if f.mu != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
	}
	return fn(nil)
}

type memLedger struct {
	mu         sync.Mutex
	wallets    map[string]*models.Wallet
	rows       []*models.Transaction
	nextWallet int64
	nextRow    int64
	now        func() time.Time
}

func newMemLedger(now func() time.Time) *memLedger {
	return &memLedger{wallets: map[string]*models.Wallet{}, now: now}
}

func (m *memLedger) walletStore() memWallets { return memWallets{m} }

func (m *memLedger) txStore() memTransactions { return memTransactions{m} }

func (m *memLedger) seedWallet(w models.Wallet) *models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWallet++
	w.ID = m.nextWallet
	if w.Currency == "" {
		w.Currency = models.Currency
	}
	m.wallets[w.UserID] = &w
	return &w
}

func (m *memLedger) wallet(userID string) models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.wallets[userID]
}

func (m *memLedger) rowsFor(userID string) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out
}

type memWallets struct{ m *memLedger }

func (w memWallets) CreateIfMissing(_ context.Context, _ store.Execer, userID string, initial int64) (bool, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if _, ok := w.m.wallets[userID]; ok {
		return false, nil
	}
	w.m.nextWallet++
	now := w.m.now()
	w.m.wallets[userID] = &models.Wallet{
		ID: w.m.nextWallet, UserID: userID, Balance: initial, Currency: models.Currency,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	return true, nil
}

func (w memWallets) Get(_ context.Context, _ store.Getter, userID string) (models.Wallet, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wallet, ok := w.m.wallets[userID]
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return *wallet, nil
}

func (w memWallets) GetForUpdate(ctx context.Context, q store.Getter, userID string) (models.Wallet, error) {
	return w.Get(ctx, q, userID)
}

func (w memWallets) byID(id int64) *models.Wallet {
	for _, wallet := range w.m.wallets {
		if wallet.ID == id {
			return wallet
		}
	}
	return nil
}

func (w memWallets) ApplyMutation(_ context.Context, _ store.Execer, walletID, balance, credited, debited int64, at time.Time) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wallet := w.byID(walletID)
	if wallet == nil {
		return sql.ErrNoRows
	}
	wallet.Balance = balance
	wallet.TotalCredited += credited
	wallet.TotalDebited += debited
	wallet.LastTransactionAt = &at
	return nil
}

func (w memWallets) SetLimits(_ context.Context, _ store.Execer, walletID int64, daily, monthly *int64) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	wallet := w.byID(walletID)
	wallet.DailyLimit = daily
	wallet.MonthlyLimit = monthly
	return nil
}

func (w memWallets) SetActive(_ context.Context, _ store.Execer, walletID int64, active bool) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.byID(walletID).IsActive = active
	return nil
}

type memTransactions struct{ m *memLedger }

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

func (t memTransactions) Create(_ context.Context, _ store.Getter, input store.TransactionInput) (models.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, row := range t.m.rows {
		if row.ReferenceID == input.ReferenceID {
			return models.Transaction{}, uniqueViolation()
		}
		if input.ExternalID != nil && row.ExternalID != nil && input.Gateway != nil && row.Gateway != nil &&
			*row.Gateway == *input.Gateway && *row.ExternalID == *input.ExternalID {
			return models.Transaction{}, uniqueViolation()
		}
	}
	t.m.nextRow++
	now := t.m.now()
	meta := input.Metadata
	if meta == nil {
		meta = models.Metadata{}
	}
	row := &models.Transaction{
		ID: t.m.nextRow, UserID: input.UserID, WalletID: input.WalletID, Type: input.Type, Status: input.Status,
		Amount: input.Amount, BalanceBefore: input.BalanceBefore, BalanceAfter: input.BalanceAfter,
		PaymentMethod: input.PaymentMethod, Gateway: input.Gateway, ReferenceID: input.ReferenceID,
		ExternalID: input.ExternalID, Description: input.Description, Metadata: meta,
		CreatedAt: now, UpdatedAt: now, ProcessedAt: input.ProcessedAt,
	}
	t.m.rows = append(t.m.rows, row)
	return *row, nil
}

func (t memTransactions) find(match func(*models.Transaction) bool) (models.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, row := range t.m.rows {
		if match(row) {
			return *row, nil
		}
	}
	return models.Transaction{}, sql.ErrNoRows
}

func (t memTransactions) byID(id int64) *models.Transaction {
	for _, row := range t.m.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (t memTransactions) GetByID(_ context.Context, id int64) (models.Transaction, error) {
	return t.find(func(row *models.Transaction) bool { return row.ID == id })
}

func (t memTransactions) GetForUpdate(ctx context.Context, _ store.Getter, id int64) (models.Transaction, error) {
	return t.GetByID(ctx, id)
}

func (t memTransactions) GetByReference(_ context.Context, ref string) (models.Transaction, error) {
	return t.find(func(row *models.Transaction) bool { return row.ReferenceID == ref })
}

func (t memTransactions) GetByReferenceTx(ctx context.Context, _ store.Getter, ref string) (models.Transaction, error) {
	return t.GetByReference(ctx, ref)
}

func (t memTransactions) GetByExternal(_ context.Context, gateway models.Gateway, externalID string) (models.Transaction, error) {
	return t.find(func(row *models.Transaction) bool {
		return row.GatewayIs(gateway) && row.ExternalID != nil && *row.ExternalID == externalID
	})
}

func (t memTransactions) AttachExternal(_ context.Context, _ store.Execer, id int64, gateway models.Gateway, externalID string, externalTime *int64, extra models.Metadata, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, row := range t.m.rows {
		if row.ID != id && row.GatewayIs(gateway) && row.ExternalID != nil && *row.ExternalID == externalID {
			return uniqueViolation()
		}
	}
	row := t.byID(id)
	row.Gateway = &gateway
	row.ExternalID = &externalID
	row.ExternalTime = externalTime
	row.ExternalAttachedAt = &at
	row.PaymentMethod = string(gateway)
	for k, v := range extra {
		row.Metadata[k] = v
	}
	return nil
}

func (t memTransactions) MarkCompleted(_ context.Context, _ store.Execer, id, before, after int64, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	row := t.byID(id)
	if row.Status != models.StatusPending {
		return nil
	}
	row.Status = models.StatusCompleted
	row.BalanceBefore = &before
	row.BalanceAfter = &after
	row.ProcessedAt = &at
	return nil
}

func (t memTransactions) MarkCancelled(_ context.Context, _ store.Execer, id int64, status models.TransactionStatus, reason *int, note string, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	row := t.byID(id)
	row.Status = status
	row.CancelReason = reason
	row.CancelledAt = &at
	if note != "" {
		row.FailedReason = &note
	}
	return nil
}

func (t memTransactions) MarkFailed(_ context.Context, _ store.Execer, id int64, reason string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	row := t.byID(id)
	if row.Status != models.StatusPending {
		return nil
	}
	row.Status = models.StatusFailed
	row.FailedReason = &reason
	return nil
}

func (t memTransactions) ListByUser(_ context.Context, userID string, filter store.TransactionFilter) ([]models.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var out []models.Transaction
	for _, row := range t.m.rows {
		if row.UserID != userID {
			continue
		}
		if filter.Type != nil && row.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		out = append(out, *row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t memTransactions) ListByGatewayAttachedBetween(_ context.Context, gateway models.Gateway, from, to time.Time) ([]models.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	out := []models.Transaction{}
	for _, row := range t.m.rows {
		at := row.CreatedAt
		if row.ExternalAttachedAt != nil {
			at = *row.ExternalAttachedAt
		}
		if row.GatewayIs(gateway) && row.ExternalID != nil && !at.Before(from) && at.Before(to) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (t memTransactions) SumCompletedDebits(_ context.Context, _ store.Getter, walletID int64, since time.Time) (int64, error) {
	summary, err := t.SpendingSummary(context.Background(), walletID, since)
	return summary.TotalSpent, err
}

func (t memTransactions) SpendingSummary(_ context.Context, walletID int64, since time.Time) (store.SpendingSummary, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var summary store.SpendingSummary
	for _, row := range t.m.rows {
		if row.WalletID == walletID && row.Type == models.TypeDebit && row.Status == models.StatusCompleted && !row.CreatedAt.Before(since) {
			summary.TotalSpent += row.Amount
			summary.Count++
		}
	}
	return summary, nil
}

type auditEntry struct {
	actor, action, entityID, data string
}

type stubAuditStore struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (s *stubAuditStore) Log(_ context.Context, _ store.Execer, actor, action, _, entityID, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, auditEntry{actor: actor, action: action, entityID: entityID, data: data})
	return nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []events.BalanceEvent
}

func (s *stubNotifier) NotifyBalance(_ context.Context, event events.BalanceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubCache struct {
	mu          sync.Mutex
	versions    map[string]int64
	values      map[string]BalanceInfo
	invalidated []string
	beforeSet   func()
}

func newStubCache() *stubCache {
	return &stubCache{versions: map[string]int64{}, values: map[string]BalanceInfo{}}
}

func cacheKey(userID string, version int64) string {
	return fmt.Sprintf("%s:%d", userID, version)
}

func (c *stubCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *stubCache) Get(_ context.Context, userID string, version int64, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[cacheKey(userID, version)]
	if !ok {
		return cache.ErrBalanceNotFound
	}
	*dest.(*BalanceInfo) = value
	return nil
}

func (c *stubCache) Set(_ context.Context, userID string, version int64, value any) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[cacheKey(userID, version)] = value.(BalanceInfo)
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[userID]++
	c.invalidated = append(c.invalidated, userID)
	return nil
}

var testPricing = config.PricingConfig{
	InitialBalance:   100000,
	AudioPricePerMin: 10000,
	VideoPricePerMin: 15000,
	MinPaymentAmount: 100000,
	MaxPaymentAmount: 100000000,
}

var fixedNow = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

type harness struct {
	service  *LedgerService
	ledger   *memLedger
	audit    *stubAuditStore
	notifier *stubNotifier
	cache    *stubCache
}

func newHarness() *harness {
	clock := func() time.Time { return fixedNow }
	ledger := newMemLedger(clock)
	h := &harness{
		ledger:   ledger,
		audit:    &stubAuditStore{},
		notifier: &stubNotifier{},
		cache:    newStubCache(),
	}
	h.service = NewLedgerService(fakeTxRunner{mu: &sync.Mutex{}}, ledger.walletStore(), ledger.txStore(), h.audit, h.cache, h.notifier, testPricing)
	h.service.now = clock
	return h
}
