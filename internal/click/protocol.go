// Package click implements the merchant side of Click's two-phase SHOP API:
// Prepare (action 0) reserves a pending top-up and Complete (action 1)
// credits it.
package click

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"
)

type Code int

const (
	CodeSuccess                 Code = 0
	CodeSignCheckFailed         Code = -1
	CodeInvalidAmount           Code = -2
	CodeActionNotFound          Code = -3
	CodeAlreadyPaid             Code = -4
	CodeUserDoesNotExist        Code = -5
	CodeTransactionDoesNotExist Code = -6
	CodeFailedToUpdateUser      Code = -7
	CodeErrorInRequest          Code = -8
	CodeTransactionCancelled    Code = -9
)

var notes = map[Code]string{
	CodeSuccess:                 "Success",
	CodeSignCheckFailed:         "SIGN CHECK FAILED!",
	CodeInvalidAmount:           "Incorrect parameter amount",
	CodeActionNotFound:          "Action not found",
	CodeAlreadyPaid:             "Already paid",
	CodeUserDoesNotExist:        "User does not exist",
	CodeTransactionDoesNotExist: "Transaction does not exist",
	CodeFailedToUpdateUser:      "Failed to update user",
	CodeErrorInRequest:          "Error in request from click",
	CodeTransactionCancelled:    "Transaction cancelled",
}

func (c Code) Note() string {
	return notes[c]
}

const (
	ActionPrepare  = "0"
	ActionComplete = "1"
)

// Request carries the form fields of a Prepare or Complete callback verbatim.
// Amount stays a string because the signature covers its exact spelling.
type Request struct {
	ClickTransID      string
	ServiceID         string
	ClickPaydocID     string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	ErrorNote         string
	SignTime          string
	SignString        string
}

func ParseRequest(form url.Values) Request {
	get := func(key string) string { return strings.TrimSpace(form.Get(key)) }
	sign := get("sign_string")
	if sign == "" {
		sign = get("sign")
	}
	return Request{
		ClickTransID:      get("click_trans_id"),
		ServiceID:         get("service_id"),
		ClickPaydocID:     get("click_paydoc_id"),
		MerchantTransID:   get("merchant_trans_id"),
		MerchantPrepareID: get("merchant_prepare_id"),
		Amount:            get("amount"),
		Action:            get("action"),
		Error:             get("error"),
		ErrorNote:         get("error_note"),
		SignTime:          get("sign_time"),
		SignString:        sign,
	}
}

type Response struct {
	ClickTransID      string `json:"click_trans_id,omitempty"`
	MerchantTransID   string `json:"merchant_trans_id,omitempty"`
	MerchantPrepareID *int64 `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID *int64 `json:"merchant_confirm_id,omitempty"`
	Error             Code   `json:"error"`
	ErrorNote         string `json:"error_note"`
}

func errorResponse(req Request, code Code) Response {
	return Response{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       code.Note(),
	}
}

// Sign computes the MD5 signature Click expects. The Complete variant inserts
// merchant_prepare_id between merchant_trans_id and amount.
func Sign(req Request, secret string) string {
	var b strings.Builder
	b.WriteString(req.ClickTransID)
	b.WriteString(req.ServiceID)
	b.WriteString(secret)
	b.WriteString(req.MerchantTransID)
	if req.Action == ActionComplete {
		b.WriteString(req.MerchantPrepareID)
	}
	b.WriteString(req.Amount)
	b.WriteString(req.Action)
	b.WriteString(req.SignTime)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func VerifySignature(req Request, secret string) bool {
	expected := Sign(req, secret)
	given := strings.ToLower(req.SignString)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
