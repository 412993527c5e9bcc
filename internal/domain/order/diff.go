package order

import "github.com/shopspring/decimal"

// Summarize nets every line item of the snapshot against its refunds and
// returns one ItemSummary per line item, in snapshot order.
//
// A refund must never exceed the original quantity; that invariant is not
// enforced by the sender, so the net quantity clamps at zero here rather than
// going negative.
func Summarize(s *Snapshot) []ItemSummary {
	refunded := make(map[string]int)
	for _, refund := range s.Refunds {
		for _, item := range refund.Items {
			refunded[item.LineItemID] += item.Quantity
		}
	}

	summaries := make([]ItemSummary, 0, len(s.LineItems))
	for _, item := range s.LineItems {
		qty := item.Quantity - refunded[item.ID]
		if qty < 0 {
			qty = 0
		}
		summaries = append(summaries, ItemSummary{
			LineItemID:  item.ID,
			Name:        item.Name,
			SKU:         item.SKU,
			Price:       item.Price,
			Quantity:    qty,
			TotalAmount: item.Price.Mul(decimal.NewFromInt(int64(qty))),
			Category:    DefaultCategory,
			OrderID:     s.ID,
		})
	}
	return summaries
}

// Diff computes the ledger deltas between two net item sets. prev may be nil:
// the initial-ingestion path emits every item at its full net quantity.
//
// For each item in next, the delta quantity is next minus prev (matched by
// line item id) and the delta amount is delta quantity times unit price.
// Zero deltas are dropped, so re-delivering an identical snapshot yields an
// empty diff. Items present in prev but absent from next produce no removal
// delta; in this domain items are refunded to zero, never removed.
//
// Deltas come out in next's order. There is no ordering guarantee across
// different orders.
func Diff(next, prev []ItemSummary) []ItemSummary {
	if len(prev) == 0 {
		deltas := make([]ItemSummary, 0, len(next))
		for _, item := range next {
			if item.Quantity != 0 {
				deltas = append(deltas, item)
			}
		}
		return deltas
	}

	prevByID := make(map[string]ItemSummary, len(prev))
	for _, item := range prev {
		prevByID[item.LineItemID] = item
	}

	var deltas []ItemSummary
	for _, item := range next {
		before, ok := prevByID[item.LineItemID]
		if !ok {
			if item.Quantity != 0 {
				deltas = append(deltas, item)
			}
			continue
		}

		qty := item.Quantity - before.Quantity
		if qty == 0 {
			continue
		}
		item.Quantity = qty
		item.TotalAmount = item.Price.Mul(decimal.NewFromInt(int64(qty)))
		deltas = append(deltas, item)
	}
	return deltas
}
