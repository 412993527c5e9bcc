package giftcard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdonhauser/pos-webhooks/internal/domain/order"
)

func printableItem(id, title, variant string) order.LineItem {
	return order.LineItem{
		ID:           id,
		Name:         title,
		Title:        title,
		Quantity:     1,
		VariantTitle: variant,
	}
}

func TestIssueFromOrder_UnlimitedWristband(t *testing.T) {
	items := []order.LineItem{
		printableItem("466157049", "Unlimited Wristband", "Printable Wristband"),
	}

	cards := IssueFromOrder(items, "1001")

	require.Len(t, cards, 1)
	assert.Equal(t, "466157049", cards[0].CardNumber)
	assert.Equal(t, "Unlimited Wristband", cards[0].Items)
	assert.Equal(t, "Order 1001", cards[0].IssuedTo)
	assert.False(t, cards[0].IsDonation)
	assert.Nil(t, cards[0].ValidStarting)
}

func TestIssueFromOrder_ComboClassification(t *testing.T) {
	items := []order.LineItem{
		printableItem("1", "Add a Combo Meal", "Printable"),
		printableItem("2", "Eat & Play Special", "Printable"),
	}

	cards := IssueFromOrder(items, "1001")

	require.Len(t, cards, 2)
	assert.Equal(t, "Eat & Play Combo", cards[0].Items)
	assert.Equal(t, "Eat & Play Combo", cards[1].Items)
}

func TestIssueFromOrder_NonPrintableSkipped(t *testing.T) {
	items := []order.LineItem{
		{ID: "1", Title: "Unlimited Wristband", VariantTitle: "At the Door"},
		{ID: "2", Title: "Unlimited Wristband"},
	}

	cards := IssueFromOrder(items, "1001")

	assert.Empty(t, cards)
}

func TestIssueFromOrder_UnclassifiedDroppedSilently(t *testing.T) {
	items := []order.LineItem{
		printableItem("1", "Souvenir Cup", "Printable"),
	}

	cards := IssueFromOrder(items, "1001")

	assert.Empty(t, cards)
}

func TestIssueFromOrder_CaseInsensitiveMatching(t *testing.T) {
	items := []order.LineItem{
		printableItem("1", "UNLIMITED BAND", "PRINTABLE"),
	}

	cards := IssueFromOrder(items, "1001")

	require.Len(t, cards, 1)
	assert.Equal(t, "Unlimited Wristband", cards[0].Items)
}

func TestIssueFromOrder_DeterministicReIssue(t *testing.T) {
	items := []order.LineItem{
		printableItem("466157049", "Unlimited Wristband", "Printable Wristband"),
	}

	first := IssueFromOrder(items, "1001")
	second := IssueFromOrder(items, "1001")

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].CardNumber, second[0].CardNumber)
	assert.Equal(t, first[0], second[0])
}

func TestIssueFromOrder_ValidStartingDateToken(t *testing.T) {
	items := []order.LineItem{
		printableItem("1", "Unlimited Wristband 12/25/2024", "Printable"),
	}

	cards := IssueFromOrder(items, "1001")

	require.Len(t, cards, 1)
	require.NotNil(t, cards[0].ValidStarting)
	assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), *cards[0].ValidStarting)
}

func TestExtractValidStarting(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  *time.Time
	}{
		{name: "no token", label: "Unlimited Wristband", want: nil},
		{
			name:  "four digit year",
			label: "Wristband 12/25/2024 Printable",
			want:  timePtr(2024, 12, 25),
		},
		{
			name:  "two digit year below 30 maps to 20xx",
			label: "Wristband 01/01/25",
			want:  timePtr(2025, 1, 1),
		},
		{
			name:  "two digit year 30+ maps to 19xx",
			label: "Wristband 06/15/99",
			want:  timePtr(1999, 6, 15),
		},
		{name: "impossible date rejected", label: "Wristband 02/30/2025", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractValidStarting(tt.label)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func timePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}
