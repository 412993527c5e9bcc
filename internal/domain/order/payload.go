package order

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// wireID tolerates external ids arriving either as JSON numbers or strings;
// the platform is inconsistent between webhook topics and API versions.
type wireID string

func (w *wireID) UnmarshalJSON(b []byte) error {
	s := bytes.Trim(b, `"`)
	if string(s) == "null" {
		*w = ""
		return nil
	}
	*w = wireID(s)
	return nil
}

type wireLineItem struct {
	ID           wireID          `json:"id"`
	Name         string          `json:"name"`
	Title        string          `json:"title"`
	SKU          string          `json:"sku"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	VariantTitle string          `json:"variant_title"`
}

type wireRefundItem struct {
	Quantity int `json:"quantity"`
	LineItem struct {
		ID wireID `json:"id"`
	} `json:"line_item"`
}

type wireRefund struct {
	RefundLineItems []wireRefundItem `json:"refund_line_items"`
}

type wireOrder struct {
	ID        wireID         `json:"id"`
	LineItems []wireLineItem `json:"line_items"`
	Refunds   []wireRefund   `json:"refunds"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ParsePayload decodes an order webhook body into a Snapshot. The same codec
// reads snapshots back out of the store, since the store keeps the payload
// verbatim.
func ParsePayload(raw []byte) (*Snapshot, error) {
	var wire wireOrder
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decode order payload")
	}
	if wire.ID == "" {
		return nil, errors.New("order payload missing id")
	}

	s := &Snapshot{
		ID:        string(wire.ID),
		UpdatedAt: wire.UpdatedAt,
		LineItems: make([]LineItem, 0, len(wire.LineItems)),
	}
	for _, item := range wire.LineItems {
		name := item.Name
		if name == "" {
			name = item.Title
		}
		s.LineItems = append(s.LineItems, LineItem{
			ID:           string(item.ID),
			Name:         name,
			Title:        item.Title,
			SKU:          item.SKU,
			Price:        item.Price,
			Quantity:     item.Quantity,
			VariantTitle: item.VariantTitle,
		})
	}
	for _, refund := range wire.Refunds {
		r := Refund{Items: make([]RefundItem, 0, len(refund.RefundLineItems))}
		for _, item := range refund.RefundLineItems {
			r.Items = append(r.Items, RefundItem{
				LineItemID: string(item.LineItem.ID),
				Quantity:   item.Quantity,
			})
		}
		s.Refunds = append(s.Refunds, r)
	}
	return s, nil
}
