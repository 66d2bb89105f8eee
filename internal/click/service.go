package click

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"payledger/internal/config"
	"payledger/internal/logger"
	"payledger/internal/metrics"
	"payledger/internal/models"
	"payledger/internal/money"
	"payledger/internal/services"
)

const (
	productionPayURL = "https://my.click.uz/services/pay"
	testPayURL       = "https://test.click.uz/services/pay"
)

// Ledger is the part of the ledger service the Click flow needs.
type Ledger interface {
	FindByReference(ctx context.Context, referenceID string) (models.Transaction, error)
	AttachExternal(ctx context.Context, id int64, gateway models.Gateway, externalID string, externalTime *int64, extra models.Metadata) (models.Transaction, error)
	CompleteTopUp(ctx context.Context, id int64, gateway models.Gateway) (services.Mutation, error)
	FailTopUp(ctx context.Context, id int64, reason string) (services.Mutation, error)
}

type Service struct {
	cfg    config.ClickConfig
	ledger Ledger
}

func NewService(cfg config.ClickConfig, ledger Ledger) *Service {
	return &Service{cfg: cfg, ledger: ledger}
}

// Prepare validates a Click Prepare callback and binds click_trans_id to the
// pending top-up named by merchant_trans_id.
func (s *Service) Prepare(ctx context.Context, req Request) Response {
	resp := s.prepare(ctx, req)
	metrics.RecordWebhook(string(models.GatewayClick), "prepare", strconv.Itoa(int(resp.Error)))
	return resp
}

func (s *Service) prepare(ctx context.Context, req Request) Response {
	if !s.hasRequiredFields(req) {
		return errorResponse(req, CodeErrorInRequest)
	}
	if req.Action != ActionPrepare {
		return errorResponse(req, CodeActionNotFound)
	}
	if err := s.authenticate(req); err != nil {
		return errorResponse(req, codeFor(err))
	}
	row, err := s.ledger.FindByReference(ctx, req.MerchantTransID)
	if err != nil {
		return s.lookupFailure(ctx, req, err)
	}
	if err := checkAmount(req, row); err != nil {
		return errorResponse(req, codeFor(err))
	}
	switch {
	case row.Status == models.StatusCompleted:
		return errorResponse(req, CodeAlreadyPaid)
	case row.Status.Terminal():
		return errorResponse(req, CodeTransactionCancelled)
	}

	var extra models.Metadata
	if req.ClickPaydocID != "" {
		extra = models.Metadata{"click_paydoc_id": req.ClickPaydocID}
	}
	if _, err := s.ledger.AttachExternal(ctx, row.ID, models.GatewayClick, req.ClickTransID, nil, extra); err != nil {
		switch {
		case errors.Is(err, services.ErrExternalConflict):
			return errorResponse(req, CodeErrorInRequest)
		case errors.Is(err, services.ErrNotPending):
			return errorResponse(req, CodeTransactionCancelled)
		}
		return s.internalFailure(ctx, req, "attach click transaction", err)
	}

	id := row.ID
	return Response{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: &id,
		Error:             CodeSuccess,
		ErrorNote:         CodeSuccess.Note(),
	}
}

// Complete finalizes a prepared top-up. Replays of a successful Complete
// return the same confirm id without crediting again.
func (s *Service) Complete(ctx context.Context, req Request) Response {
	resp := s.complete(ctx, req)
	metrics.RecordWebhook(string(models.GatewayClick), "complete", strconv.Itoa(int(resp.Error)))
	return resp
}

func (s *Service) complete(ctx context.Context, req Request) Response {
	if !s.hasRequiredFields(req) || req.MerchantPrepareID == "" {
		return errorResponse(req, CodeErrorInRequest)
	}
	if req.Action != ActionComplete {
		return errorResponse(req, CodeActionNotFound)
	}
	if err := s.authenticate(req); err != nil {
		return errorResponse(req, codeFor(err))
	}
	row, err := s.ledger.FindByReference(ctx, req.MerchantTransID)
	if err != nil {
		return s.lookupFailure(ctx, req, err)
	}
	prepareID, err := strconv.ParseInt(req.MerchantPrepareID, 10, 64)
	if err != nil || prepareID != row.ID {
		return errorResponse(req, CodeTransactionDoesNotExist)
	}
	// Only the click_trans_id bound at Prepare may complete the row.
	if !row.GatewayIs(models.GatewayClick) || row.ExternalID == nil || *row.ExternalID != req.ClickTransID {
		return errorResponse(req, CodeTransactionDoesNotExist)
	}
	if row.Status == models.StatusCompleted {
		return confirmed(req, row.ID)
	}
	if row.Status.Terminal() {
		return errorResponse(req, CodeTransactionCancelled)
	}
	if err := checkAmount(req, row); err != nil {
		return errorResponse(req, codeFor(err))
	}

	if clickErr, _ := strconv.Atoi(req.Error); clickErr < 0 {
		note := "click error " + req.Error
		if req.ErrorNote != "" {
			note += ": " + req.ErrorNote
		}
		if _, err := s.ledger.FailTopUp(ctx, row.ID, note); err != nil && !errors.Is(err, services.ErrNotPending) {
			return s.internalFailure(ctx, req, "fail click top-up", err)
		}
		return errorResponse(req, CodeTransactionCancelled)
	}

	if _, err := s.ledger.CompleteTopUp(ctx, row.ID, models.GatewayClick); err != nil {
		switch {
		case errors.Is(err, services.ErrNotPending):
			return errorResponse(req, CodeTransactionCancelled)
		case errors.Is(err, services.ErrExternalConflict):
			return errorResponse(req, CodeErrorInRequest)
		case errors.Is(err, services.ErrTransactionNotFound):
			return errorResponse(req, CodeTransactionDoesNotExist)
		}
		return s.internalFailure(ctx, req, "complete click top-up", err)
	}
	return confirmed(req, row.ID)
}

// PaymentLink builds the hosted checkout URL a user is redirected to.
func (s *Service) PaymentLink(referenceID string, amount int64, returnURL string) string {
	base := productionPayURL
	if s.cfg.TestMode {
		base = testPayURL
	}
	params := url.Values{}
	params.Set("service_id", s.cfg.ServiceID)
	params.Set("merchant_id", s.cfg.MerchantID)
	params.Set("amount", money.FormatMinor(amount))
	params.Set("transaction_param", referenceID)
	if returnURL != "" {
		params.Set("return_url", returnURL)
	}
	return base + "?" + params.Encode()
}

// MerchantAuthHeader is the Auth header value for Click's merchant API.
func (s *Service) MerchantAuthHeader(now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	sum := sha1.Sum([]byte(ts + s.cfg.SecretKey))
	return s.cfg.MerchantUserID + ":" + hex.EncodeToString(sum[:]) + ":" + ts
}

func (s *Service) hasRequiredFields(req Request) bool {
	if req.ClickTransID == "" || req.ServiceID == "" || req.MerchantTransID == "" ||
		req.Amount == "" || req.Action == "" || req.SignTime == "" || req.SignString == "" {
		return false
	}
	return s.cfg.ServiceID == "" || req.ServiceID == s.cfg.ServiceID
}

func (s *Service) lookupFailure(ctx context.Context, req Request, err error) Response {
	if errors.Is(err, services.ErrTransactionNotFound) {
		return errorResponse(req, CodeUserDoesNotExist)
	}
	return s.internalFailure(ctx, req, "find click top-up", err)
}

func (s *Service) internalFailure(ctx context.Context, req Request, msg string, err error) Response {
	logger.FromContext(ctx).Error(msg,
		zap.String("click_trans_id", req.ClickTransID),
		zap.String("merchant_trans_id", req.MerchantTransID),
		zap.Error(err),
	)
	return errorResponse(req, CodeFailedToUpdateUser)
}

func (s *Service) authenticate(req Request) error {
	if !VerifySignature(req, s.cfg.SecretKey) {
		return services.ErrSignatureInvalid
	}
	return nil
}

func checkAmount(req Request, row models.Transaction) error {
	amount, err := money.ParseDecimal(req.Amount)
	if err != nil || amount != row.Amount {
		return fmt.Errorf("%w: got %q, want %s", services.ErrAmountMismatch, req.Amount, money.FormatMinor(row.Amount))
	}
	return nil
}

// codeFor maps a ledger error onto the Click code reported for it.
func codeFor(err error) Code {
	switch {
	case errors.Is(err, services.ErrSignatureInvalid):
		return CodeSignCheckFailed
	case errors.Is(err, services.ErrAmountMismatch):
		return CodeInvalidAmount
	case errors.Is(err, services.ErrNotPending):
		return CodeTransactionCancelled
	case errors.Is(err, services.ErrExternalConflict):
		return CodeErrorInRequest
	}
	return CodeFailedToUpdateUser
}

func confirmed(req Request, id int64) Response {
	return Response{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantConfirmID: &id,
		Error:             CodeSuccess,
		ErrorNote:         CodeSuccess.Note(),
	}
}
