package membership

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Subscription is the decoded subscription-platform payload.
type Subscription struct {
	ID    string
	Email string
	Items []SubscriptionItem
}

// SubscriptionItem is one product line of a subscription, carrying per-seat
// properties keyed name_1..name_N, dob_1..dob_N plus a shared gcid barcode.
type SubscriptionItem struct {
	Title         string
	Quantity      int
	SellingPlanID string
	Properties    []Property
}

// Property is a key/value attribute attached to a subscription item.
type Property struct {
	Key   string
	Value string
}

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

type wireProperty struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

type wireItem struct {
	Title         string         `json:"title"`
	Quantity      int            `json:"quantity"`
	SellingPlanID wireID         `json:"selling_plan_id"`
	Properties    []wireProperty `json:"properties"`
}

type wireSubscription struct {
	ID    wireID     `json:"id"`
	Email string     `json:"email"`
	Items []wireItem `json:"items"`
}

// ParsePayload decodes a subscription webhook body.
func ParsePayload(raw []byte) (*Subscription, error) {
	var wire wireSubscription
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decode subscription payload")
	}

	sub := &Subscription{
		ID:    string(wire.ID),
		Email: wire.Email,
		Items: make([]SubscriptionItem, 0, len(wire.Items)),
	}
	for _, item := range wire.Items {
		si := SubscriptionItem{
			Title:         item.Title,
			Quantity:      item.Quantity,
			SellingPlanID: string(item.SellingPlanID),
			Properties:    make([]Property, 0, len(item.Properties)),
		}
		for _, p := range item.Properties {
			value := ""
			if p.Value != nil {
				value = *p.Value
			}
			si.Properties = append(si.Properties, Property{Key: p.Key, Value: value})
		}
		sub.Items = append(sub.Items, si)
	}
	return sub, nil
}

// MembersFromSubscription expands a subscription into membership records.
// Only items whose title prefix (before " - ") mentions "Member" qualify;
// each quantity unit becomes its own Member with seat-indexed name and date
// of birth properties.
func MembersFromSubscription(sub *Subscription) []Member {
	var members []Member
	for _, item := range sub.Items {
		membershipType := strings.SplitN(item.Title, " - ", 2)[0]
		if !strings.Contains(membershipType, "Member") {
			continue
		}

		for seat := 1; seat <= item.Quantity; seat++ {
			m := Member{
				Type:          membershipType,
				SubID:         sub.ID,
				SellingPlanID: item.SellingPlanID,
				Email:         sub.Email,
			}
			for _, p := range item.Properties {
				switch p.Key {
				case fmt.Sprintf("name_%d", seat), "Name":
					m.Name = p.Value
				case fmt.Sprintf("dob_%d", seat), "Date of Birth":
					m.DOB = ParseDateToken(p.Value)
				case "gcid":
					m.Barcode = p.Value
				}
			}
			members = append(members, m)
		}
	}
	return members
}

var dateTokenRe = regexp.MustCompile(`^(0[1-9]|1[0-2])/(0[1-9]|[12][0-9]|3[01])/(\d{2}|\d{4})$`)

// ParseDateToken converts an MM/DD/YY or MM/DD/YYYY string into a date.
// Two-digit years below 30 land in 20xx, the rest in 19xx. Returns nil for
// anything that is not a real calendar date.
func ParseDateToken(s string) *time.Time {
	m := dateTokenRe.FindStringSubmatch(s)
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
