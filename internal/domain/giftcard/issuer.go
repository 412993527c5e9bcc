package giftcard

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zdonhauser/pos-webhooks/internal/domain/order"
)

// printableMarker gates which line items produce physical cards at all.
const printableMarker = "printable"

// classification maps label substrings to the card class they issue.
// Matching is case-insensitive on the combined title + variant title.
// Items matching no rule are silently dropped.
var classifications = []struct {
	substrings []string
	label      string
}{
	{substrings: []string{"eat & play", "add a combo meal"}, label: "Eat & Play Combo"},
	{substrings: []string{"unlimited wristband", "unlimited band"}, label: "Unlimited Wristband"},
}

// dateToken matches a literal MM/DD/YY or MM/DD/YYYY date embedded in a
// product title, used for cards sold ahead of a season opening.
var dateToken = regexp.MustCompile(`(0[1-9]|1[0-2])/(0[1-9]|[12][0-9]|3[01])/(\d{4}|\d{2})`)

// IssueFromOrder returns one Card per printable, classifiable line item of
// the order. Output order follows line-item order.
func IssueFromOrder(items []order.LineItem, orderID string) []Card {
	var cards []Card
	for _, item := range items {
		if !strings.Contains(strings.ToLower(item.VariantTitle), printableMarker) {
			continue
		}

		title := item.Title
		if title == "" {
			title = item.Name
		}
		combined := strings.TrimSpace(title + " " + item.VariantTitle)

		label, ok := classify(combined)
		if !ok {
			continue
		}

		cards = append(cards, Card{
			CardNumber:    item.ID,
			Items:         label,
			IssuedTo:      "Order " + orderID,
			ValidStarting: extractValidStarting(combined),
		})
	}
	return cards
}

func classify(combined string) (string, bool) {
	lower := strings.ToLower(combined)
	for _, c := range classifications {
		for _, sub := range c.substrings {
			if strings.Contains(lower, sub) {
				return c.label, true
			}
		}
	}
	return "", false
}

// extractValidStarting pulls an embedded date token out of the combined label
// and returns it as a gating date, or nil when the label carries none (or the
// token is not a real calendar date, like 02/30/2025).
func extractValidStarting(combined string) *time.Time {
	m := dateToken.FindStringSubmatch(combined)
	if m == nil {
		return nil
	}

	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		if year < 30 {
			year += 2000
		} else {
			year += 1900
		}
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || d.Month() != time.Month(month) || d.Day() != day {
		return nil
	}
	return &d
}
