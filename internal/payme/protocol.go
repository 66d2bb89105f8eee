// Package payme implements the Payme Merchant API, a JSON-RPC 2.0 endpoint
// that Payme calls to check, create, perform and cancel top-ups.
package payme

import (
	"encoding/json"
	"fmt"
)

const (
	ErrCodeInvalidAmount         = -31001
	ErrCodeTransactionNotFound   = -31003
	ErrCodeCannotCancel          = -31007
	ErrCodeCannotPerform         = -31008
	ErrCodeInvalidAccount        = -31050
	ErrCodeInternal              = -32400
	ErrCodeInsufficientPrivilege = -32504
	ErrCodeMethodNotFound        = -32601
	ErrCodeInvalidRequest        = -32600
	ErrCodeParse                 = -32700
)

const (
	StatePending           = 1
	StateCompleted         = 2
	StateCancelled         = -1
	StateCancelledComplete = -2
)

// ReasonTimeout is the cancel reason recorded for expired transactions.
const ReasonTimeout = 4

type Message struct {
	Ru string `json:"ru"`
	Uz string `json:"uz"`
	En string `json:"en"`
}

var messages = map[int]Message{
	ErrCodeInvalidAmount: {
		Ru: "Неверная сумма",
		Uz: "Noto'g'ri summa",
		En: "Invalid amount",
	},
	ErrCodeTransactionNotFound: {
		Ru: "Транзакция не найдена",
		Uz: "Tranzaksiya topilmadi",
		En: "Transaction not found",
	},
	ErrCodeCannotCancel: {
		Ru: "Невозможно отменить транзакцию",
		Uz: "Tranzaksiyani bekor qilib bo'lmaydi",
		En: "Unable to cancel transaction",
	},
	ErrCodeCannotPerform: {
		Ru: "Невозможно выполнить операцию",
		Uz: "Operatsiyani bajarib bo'lmaydi",
		En: "Unable to perform operation",
	},
	ErrCodeInvalidAccount: {
		Ru: "Заказ не найден",
		Uz: "Buyurtma topilmadi",
		En: "Order not found",
	},
	ErrCodeInternal: {
		Ru: "Системная ошибка",
		Uz: "Tizim xatosi",
		En: "System error",
	},
	ErrCodeInsufficientPrivilege: {
		Ru: "Недостаточно привилегий",
		Uz: "Huquqlar yetarli emas",
		En: "Insufficient privileges",
	},
	ErrCodeMethodNotFound: {
		Ru: "Метод не найден",
		Uz: "Metod topilmadi",
		En: "Method not found",
	},
	ErrCodeInvalidRequest: {
		Ru: "Неверный запрос",
		Uz: "Noto'g'ri so'rov",
		En: "Invalid request",
	},
	ErrCodeParse: {
		Ru: "Ошибка разбора JSON",
		Uz: "JSON tahlil xatosi",
		En: "Parse error",
	},
}

// Error is the JSON-RPC error object. It also satisfies error so method
// handlers can return it directly.
type Error struct {
	Code    int     `json:"code"`
	Message Message `json:"message"`
	Data    any     `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("payme error %d: %s", e.Code, e.Message.En)
}

func newError(code int) *Error {
	return &Error{Code: code, Message: messages[code]}
}

func newErrorData(code int, data any) *Error {
	return &Error{Code: code, Message: messages[code], Data: data}
}

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Account struct {
	OrderID string `json:"order_id"`
}

type CheckPerformParams struct {
	Amount  int64   `json:"amount"`
	Account Account `json:"account"`
}

type CreateParams struct {
	ID      string  `json:"id" validate:"required"`
	Time    int64   `json:"time"`
	Amount  int64   `json:"amount"`
	Account Account `json:"account"`
}

type TransactionParams struct {
	ID string `json:"id" validate:"required"`
}

type CancelParams struct {
	ID     string `json:"id" validate:"required"`
	Reason *int   `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from" validate:"gte=0"`
	To   int64 `json:"to" validate:"gte=0"`
}

type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

type CreateResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformResult struct {
	Transaction string `json:"transaction"`
	PerformTime int64  `json:"perform_time"`
	State       int    `json:"state"`
}

type CancelResult struct {
	Transaction string `json:"transaction"`
	CancelTime  int64  `json:"cancel_time"`
	State       int    `json:"state"`
}

type CheckResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type StatementTransaction struct {
	ID      string  `json:"id"`
	Time    int64   `json:"time"`
	Amount  int64   `json:"amount"`
	Account Account `json:"account"`
	CheckResult
}

type StatementResult struct {
	Transactions []StatementTransaction `json:"transactions"`
}
