package payme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"payledger/internal/config"
	"payledger/internal/logger"
	"payledger/internal/metrics"
	"payledger/internal/models"
	"payledger/internal/money"
	"payledger/internal/services"
	"payledger/internal/validator"
)

const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

const (
	checkoutURL     = "https://checkout.paycom.uz"
	testCheckoutURL = "https://checkout.test.paycom.uz"
	authLogin       = "Paycom"
)

// Ledger is the part of the ledger service the Payme flow needs.
type Ledger interface {
	FindByReference(ctx context.Context, referenceID string) (models.Transaction, error)
	FindByExternal(ctx context.Context, gateway models.Gateway, externalID string) (models.Transaction, error)
	AttachExternal(ctx context.Context, id int64, gateway models.Gateway, externalID string, externalTime *int64, extra models.Metadata) (models.Transaction, error)
	CompleteTopUp(ctx context.Context, id int64, gateway models.Gateway) (services.Mutation, error)
	CancelTopUp(ctx context.Context, id int64, reason *int, note string) (services.Mutation, error)
	ReverseTopUp(ctx context.Context, id int64, reason *int, note string) (services.Mutation, error)
	ListGatewayTransactions(ctx context.Context, gateway models.Gateway, from, to time.Time) ([]models.Transaction, error)
}

type Service struct {
	cfg    config.PaymeConfig
	ledger Ledger
	now    func() time.Time
}

func NewService(cfg config.PaymeConfig, ledger Ledger) *Service {
	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = 12 * time.Hour
	}
	return &Service{cfg: cfg, ledger: ledger, now: time.Now}
}

// Handle processes one JSON-RPC call. authorization is the raw Authorization
// header; it is checked before any ledger lookup.
func (s *Service) Handle(ctx context.Context, authorization string, body []byte) Response {
	var req Request
	parseErr := json.Unmarshal(body, &req)
	if parseErr != nil {
		req = Request{}
	}
	method := req.Method
	if !knownMethod(method) {
		method = "unknown"
	}

	resp := s.handle(ctx, authorization, req, parseErr)
	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	metrics.RecordWebhook(string(models.GatewayPayme), method, strconv.Itoa(code))
	return resp
}

func (s *Service) handle(ctx context.Context, authorization string, req Request, parseErr error) Response {
	if err := s.authorize(authorization); err != nil {
		return failure(req.ID, rpcError(err))
	}
	if parseErr != nil {
		return failure(nil, newError(ErrCodeParse))
	}
	if req.Method == "" {
		return failure(req.ID, newError(ErrCodeInvalidRequest))
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		if rpcErr := rpcError(err); rpcErr != nil {
			return failure(req.ID, rpcErr)
		}
		logger.FromContext(ctx).Error("payme method failed",
			zap.String("method", req.Method),
			zap.ByteString("params", req.Params),
			zap.Error(err),
		)
		return failure(req.ID, newError(ErrCodeInternal))
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// authorize checks the Basic credential "Paycom:<secret>".
func (s *Service) authorize(header string) error {
	const prefix = "Basic "
	if s.cfg.SecretKey == "" || len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return services.ErrAuthUnauthorized
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return fmt.Errorf("%w: %w", services.ErrAuthUnauthorized, err)
	}
	expected := []byte(authLogin + ":" + s.cfg.SecretKey)
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return services.ErrAuthUnauthorized
	}
	return nil
}

// rpcError returns the JSON-RPC error reported for err, or nil when err is
// an internal failure.
func rpcError(err error) *Error {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, services.ErrAuthUnauthorized):
		return newError(ErrCodeInsufficientPrivilege)
	case errors.Is(err, services.ErrAmountMismatch):
		return newError(ErrCodeInvalidAmount)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodCheckPerformTransaction:
		var p CheckPerformParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.CheckPerformTransaction(ctx, p)
	case MethodCreateTransaction:
		var p CreateParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.CreateTransaction(ctx, p)
	case MethodPerformTransaction:
		var p TransactionParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.PerformTransaction(ctx, p)
	case MethodCancelTransaction:
		var p CancelParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.CancelTransaction(ctx, p)
	case MethodCheckTransaction:
		var p TransactionParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.CheckTransaction(ctx, p)
	case MethodGetStatement:
		var p StatementParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.GetStatement(ctx, p)
	default:
		return nil, newErrorData(ErrCodeMethodNotFound, req.Method)
	}
}

func (s *Service) CheckPerformTransaction(ctx context.Context, p CheckPerformParams) (CheckPerformResult, error) {
	if _, err := s.payableOrder(ctx, p.Account, p.Amount); err != nil {
		return CheckPerformResult{}, err
	}
	return CheckPerformResult{Allow: true}, nil
}

// CreateTransaction binds Payme's transaction id to the order. Repeating the
// call with the same id reports the existing state.
func (s *Service) CreateTransaction(ctx context.Context, p CreateParams) (CreateResult, error) {
	existing, err := s.ledger.FindByExternal(ctx, models.GatewayPayme, p.ID)
	switch {
	case err == nil:
		if err := s.expireIfStale(ctx, existing); err != nil {
			return CreateResult{}, err
		}
		return CreateResult{
			CreateTime:  createTime(existing),
			Transaction: strconv.FormatInt(existing.ID, 10),
			State:       State(existing.Status),
		}, nil
	case !errors.Is(err, services.ErrTransactionNotFound):
		return CreateResult{}, err
	}

	row, err := s.payableOrder(ctx, p.Account, p.Amount)
	if err != nil {
		return CreateResult{}, err
	}
	var externalTime *int64
	if p.Time > 0 {
		externalTime = &p.Time
	}
	attached, err := s.ledger.AttachExternal(ctx, row.ID, models.GatewayPayme, p.ID, externalTime, nil)
	if err != nil {
		if errors.Is(err, services.ErrExternalConflict) || errors.Is(err, services.ErrNotPending) {
			return CreateResult{}, newError(ErrCodeCannotPerform)
		}
		return CreateResult{}, err
	}
	return CreateResult{
		CreateTime:  createTime(attached),
		Transaction: strconv.FormatInt(attached.ID, 10),
		State:       StatePending,
	}, nil
}

// PerformTransaction credits the wallet once; later calls return the
// original perform time.
func (s *Service) PerformTransaction(ctx context.Context, p TransactionParams) (PerformResult, error) {
	row, err := s.findTransaction(ctx, p.ID)
	if err != nil {
		return PerformResult{}, err
	}
	switch row.Status {
	case models.StatusCompleted:
		return performResult(row), nil
	case models.StatusPending:
	default:
		return PerformResult{}, newError(ErrCodeCannotPerform)
	}
	if err := s.expireIfStale(ctx, row); err != nil {
		return PerformResult{}, err
	}
	result, err := s.ledger.CompleteTopUp(ctx, row.ID, models.GatewayPayme)
	if err != nil {
		if errors.Is(err, services.ErrNotPending) || errors.Is(err, services.ErrExternalConflict) {
			return PerformResult{}, newError(ErrCodeCannotPerform)
		}
		return PerformResult{}, err
	}
	return performResult(result.Transaction), nil
}

// CancelTransaction cancels a pending transaction, or reverses a completed
// one with a compensating debit.
func (s *Service) CancelTransaction(ctx context.Context, p CancelParams) (CancelResult, error) {
	row, err := s.findTransaction(ctx, p.ID)
	if err != nil {
		return CancelResult{}, err
	}
	switch row.Status {
	case models.StatusPending:
		result, err := s.ledger.CancelTopUp(ctx, row.ID, p.Reason, "cancelled by payme")
		if err != nil {
			if errors.Is(err, services.ErrNotPending) {
				return CancelResult{}, newError(ErrCodeCannotCancel)
			}
			return CancelResult{}, err
		}
		return cancelResult(result.Transaction), nil
	case models.StatusCompleted:
		result, err := s.ledger.ReverseTopUp(ctx, row.ID, p.Reason, "cancelled by payme")
		if err != nil {
			if errors.Is(err, services.ErrInsufficientBalance) || errors.Is(err, services.ErrNotPending) {
				return CancelResult{}, newError(ErrCodeCannotCancel)
			}
			return CancelResult{}, err
		}
		return cancelResult(result.Transaction), nil
	default:
		return cancelResult(row), nil
	}
}

func (s *Service) CheckTransaction(ctx context.Context, p TransactionParams) (CheckResult, error) {
	row, err := s.findTransaction(ctx, p.ID)
	if err != nil {
		return CheckResult{}, err
	}
	return checkResult(row), nil
}

// GetStatement lists Payme transactions created in [from, to), both in
// milliseconds since the epoch.
func (s *Service) GetStatement(ctx context.Context, p StatementParams) (StatementResult, error) {
	rows, err := s.ledger.ListGatewayTransactions(ctx, models.GatewayPayme, time.UnixMilli(p.From), time.UnixMilli(p.To))
	if err != nil {
		return StatementResult{}, err
	}
	out := StatementResult{Transactions: make([]StatementTransaction, 0, len(rows))}
	for _, row := range rows {
		if row.ExternalID == nil || row.Type != models.TypeCredit {
			continue
		}
		paymeTime := createTime(row)
		if row.ExternalTime != nil {
			paymeTime = *row.ExternalTime
		}
		out.Transactions = append(out.Transactions, StatementTransaction{
			ID:          *row.ExternalID,
			Time:        paymeTime,
			Amount:      money.ToTiyin(row.Amount),
			Account:     Account{OrderID: row.ReferenceID},
			CheckResult: checkResult(row),
		})
	}
	return out, nil
}

// CheckoutURL is the hosted checkout page for a top-up of amount minor units.
func (s *Service) CheckoutURL(referenceID string, amount int64) string {
	base := checkoutURL
	if s.cfg.TestMode {
		base = testCheckoutURL
	}
	raw := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", s.cfg.MerchantID, referenceID, money.ToTiyin(amount))
	return base + "/" + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (s *Service) payableOrder(ctx context.Context, account Account, amountTiyin int64) (models.Transaction, error) {
	if account.OrderID == "" {
		return models.Transaction{}, newErrorData(ErrCodeInvalidAccount, "order_id")
	}
	row, err := s.ledger.FindByReference(ctx, account.OrderID)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			return models.Transaction{}, newErrorData(ErrCodeInvalidAccount, "order_id")
		}
		return models.Transaction{}, err
	}
	if row.Type != models.TypeCredit {
		return models.Transaction{}, newErrorData(ErrCodeInvalidAccount, "order_id")
	}
	amount, err := money.FromTiyin(amountTiyin)
	if err != nil || amount != row.Amount {
		return models.Transaction{}, fmt.Errorf("%w: got %d tiyin for order %s", services.ErrAmountMismatch, amountTiyin, row.ReferenceID)
	}
	if row.Status != models.StatusPending {
		return models.Transaction{}, newError(ErrCodeCannotPerform)
	}
	return row, nil
}

func (s *Service) findTransaction(ctx context.Context, paymeID string) (models.Transaction, error) {
	row, err := s.ledger.FindByExternal(ctx, models.GatewayPayme, paymeID)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			return models.Transaction{}, newError(ErrCodeTransactionNotFound)
		}
		return models.Transaction{}, err
	}
	return row, nil
}

// expireIfStale cancels a pending transaction older than the configured
// timeout and reports it as unperformable.
func (s *Service) expireIfStale(ctx context.Context, row models.Transaction) error {
	if row.Status != models.StatusPending {
		return nil
	}
	created := time.UnixMilli(createTime(row))
	if s.now().Sub(created) <= s.cfg.TransactionTimeout {
		return nil
	}
	reason := ReasonTimeout
	if _, err := s.ledger.CancelTopUp(ctx, row.ID, &reason, "payme transaction timed out"); err != nil && !errors.Is(err, services.ErrNotPending) {
		return err
	}
	zap.L().Info("payme transaction expired",
		zap.String("reference_id", row.ReferenceID),
		zap.Time("created_at", created),
	)
	return newError(ErrCodeCannotPerform)
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return newErrorData(ErrCodeInvalidRequest, err.Error())
	}
	if err := validator.Struct(dst); err != nil {
		return newErrorData(ErrCodeInvalidRequest, err.Error())
	}
	return nil
}

func failure(id json.RawMessage, err *Error) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: err}
}

func knownMethod(method string) bool {
	switch method {
	case MethodCheckPerformTransaction, MethodCreateTransaction, MethodPerformTransaction,
		MethodCancelTransaction, MethodCheckTransaction, MethodGetStatement:
		return true
	}
	return false
}

// State maps a ledger status to Payme's transaction state.
func State(status models.TransactionStatus) int {
	switch status {
	case models.StatusPending:
		return StatePending
	case models.StatusCompleted:
		return StateCompleted
	case models.StatusRefunded:
		return StateCancelledComplete
	default:
		return StateCancelled
	}
}

// createTime is when Payme's CreateTransaction bound the row, in ms.
func createTime(row models.Transaction) int64 {
	if row.ExternalAttachedAt != nil {
		return row.ExternalAttachedAt.UnixMilli()
	}
	return row.CreatedAt.UnixMilli()
}

func millis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func performResult(row models.Transaction) PerformResult {
	return PerformResult{
		Transaction: strconv.FormatInt(row.ID, 10),
		PerformTime: millis(row.ProcessedAt),
		State:       StateCompleted,
	}
}

func cancelResult(row models.Transaction) CancelResult {
	cancelTime := millis(row.CancelledAt)
	if cancelTime == 0 {
		cancelTime = row.UpdatedAt.UnixMilli()
	}
	return CancelResult{
		Transaction: strconv.FormatInt(row.ID, 10),
		CancelTime:  cancelTime,
		State:       State(row.Status),
	}
}

func checkResult(row models.Transaction) CheckResult {
	return CheckResult{
		CreateTime:  createTime(row),
		PerformTime: millis(row.ProcessedAt),
		CancelTime:  millis(row.CancelledAt),
		Transaction: strconv.FormatInt(row.ID, 10),
		State:       State(row.Status),
		Reason:      row.CancelReason,
	}
}
