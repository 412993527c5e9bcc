package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	raw := []byte(`{
		"id": 820982911946154508,
		"updated_at": "2025-03-01T12:30:00-05:00",
		"line_items": [
			{
				"id": 466157049,
				"name": "Unlimited Wristband",
				"title": "Unlimited Wristband",
				"sku": "WB-UNL",
				"price": "25.00",
				"quantity": 2,
				"variant_title": "Printable Wristband"
			}
		],
		"refunds": [
			{
				"refund_line_items": [
					{"quantity": 1, "line_item": {"id": 466157049}}
				]
			}
		]
	}`)

	s, err := ParsePayload(raw)
	require.NoError(t, err)

	assert.Equal(t, "820982911946154508", s.ID)
	assert.Equal(t, time.Date(2025, 3, 1, 17, 30, 0, 0, time.UTC), s.UpdatedAt.UTC())

	require.Len(t, s.LineItems, 1)
	item := s.LineItems[0]
	assert.Equal(t, "466157049", item.ID)
	assert.Equal(t, "Unlimited Wristband", item.Name)
	assert.Equal(t, "WB-UNL", item.SKU)
	assert.Equal(t, "Printable Wristband", item.VariantTitle)
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, decimal.RequireFromString("25.00").Equal(item.Price))

	require.Len(t, s.Refunds, 1)
	require.Len(t, s.Refunds[0].Items, 1)
	assert.Equal(t, "466157049", s.Refunds[0].Items[0].LineItemID)
	assert.Equal(t, 1, s.Refunds[0].Items[0].Quantity)
}

func TestParsePayload_StringIDsAndNumericPrice(t *testing.T) {
	raw := []byte(`{
		"id": "1001",
		"updated_at": "2025-03-01T12:00:00Z",
		"line_items": [
			{"id": "L1", "name": "Soda", "price": 3.5, "quantity": 1}
		]
	}`)

	s, err := ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "1001", s.ID)
	require.Len(t, s.LineItems, 1)
	assert.Equal(t, "L1", s.LineItems[0].ID)
	assert.True(t, decimal.RequireFromString("3.5").Equal(s.LineItems[0].Price))
}

func TestParsePayload_Invalid(t *testing.T) {
	_, err := ParsePayload([]byte(`{"id": 1,`))
	require.Error(t, err)

	_, err = ParsePayload([]byte(`{"line_items": []}`))
	require.Error(t, err)
}

func TestParsePayload_RoundTripsThroughStore(t *testing.T) {
	// The store keeps the payload verbatim, so parsing the same bytes twice
	// must produce identical snapshots.
	raw := []byte(`{"id": 7, "updated_at": "2025-03-01T12:00:00Z", "line_items": [{"id": 1, "name": "A", "price": "1.00", "quantity": 2}]}`)

	first, err := ParsePayload(raw)
	require.NoError(t, err)
	second, err := ParsePayload(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
