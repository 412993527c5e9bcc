// Package transaction models payment events delivered by the commerce
// platform's transaction webhook. Rows are immutable once written; the
// platform's numeric transaction id is the primary key, so a redelivered
// event is a no-op insert.
package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Transaction is one payment ledger row.
type Transaction struct {
	ID          int64
	OrderID     int64
	Kind        string
	Gateway     string
	Status      string
	Message     string
	Amount      decimal.Decimal
	Currency    string
	Test        bool
	SourceName  string
	PaymentID   string
	CreatedAt   time.Time
	ProcessedAt time.Time

	// Raw keeps the delivered payload verbatim for the JSONB audit column.
	Raw json.RawMessage
}

// Repository persists transactions. Insert must tolerate duplicate ids.
type Repository interface {
	Insert(ctx context.Context, t *Transaction) error
}

// wireInt64 accepts numeric ids delivered as either JSON numbers or strings.
type wireInt64 int64

func (w *wireInt64) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "null" || s == "" {
		*w = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Wrap(err, "numeric id")
	}
	*w = wireInt64(n)
	return nil
}

type wirePayload struct {
	ID          wireInt64       `json:"id"`
	OrderID     wireInt64       `json:"order_id"`
	Kind        string          `json:"kind"`
	Gateway     string          `json:"gateway"`
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Test        bool            `json:"test"`
	SourceName  string          `json:"source_name"`
	PaymentID   string          `json:"payment_id"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// ParsePayload decodes a transaction webhook body. The raw bytes ride along
// unmodified for auditing.
func ParsePayload(raw []byte) (*Transaction, error) {
	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decode transaction payload")
	}
	if wire.ID == 0 {
		return nil, errors.New("transaction payload missing id")
	}

	return &Transaction{
		ID:          int64(wire.ID),
		OrderID:     int64(wire.OrderID),
		Kind:        wire.Kind,
		Gateway:     wire.Gateway,
		Status:      wire.Status,
		Message:     wire.Message,
		Amount:      wire.Amount,
		Currency:    wire.Currency,
		Test:        wire.Test,
		SourceName:  wire.SourceName,
		PaymentID:   wire.PaymentID,
		CreatedAt:   wire.CreatedAt,
		ProcessedAt: wire.ProcessedAt,
		Raw:         json.RawMessage(raw),
	}, nil
}
