package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subscriptionPayload = `{
	"id": 99001,
	"email": "family@example.com",
	"items": [
		{
			"title": "Gold Member - Monthly",
			"quantity": 2,
			"selling_plan_id": 5150,
			"properties": [
				{"key": "name_1", "value": "Alex Rivera"},
				{"key": "dob_1", "value": "04/09/2015"},
				{"key": "name_2", "value": "Sam Rivera"},
				{"key": "dob_2", "value": "11/30/17"},
				{"key": "gcid", "value": "GC-777"}
			]
		},
		{
			"title": "Party Room Rental",
			"quantity": 1,
			"properties": []
		}
	]
}`

func TestParsePayload(t *testing.T) {
	sub, err := ParsePayload([]byte(subscriptionPayload))
	require.NoError(t, err)

	assert.Equal(t, "99001", sub.ID)
	assert.Equal(t, "family@example.com", sub.Email)
	require.Len(t, sub.Items, 2)
	assert.Equal(t, "Gold Member - Monthly", sub.Items[0].Title)
	assert.Equal(t, 2, sub.Items[0].Quantity)
	assert.Equal(t, "5150", sub.Items[0].SellingPlanID)
	assert.Len(t, sub.Items[0].Properties, 5)
}

func TestParsePayload_NullPropertyValue(t *testing.T) {
	sub, err := ParsePayload([]byte(`{
		"id": "1",
		"items": [{"title": "Member", "quantity": 1, "properties": [{"key": "Name", "value": null}]}]
	}`))
	require.NoError(t, err)
	require.Len(t, sub.Items, 1)
	assert.Equal(t, "", sub.Items[0].Properties[0].Value)
}

func TestMembersFromSubscription(t *testing.T) {
	sub, err := ParsePayload([]byte(subscriptionPayload))
	require.NoError(t, err)

	members := MembersFromSubscription(sub)

	// The party room item is not a membership; the member item expands into
	// one record per seat.
	require.Len(t, members, 2)

	first := members[0]
	assert.Equal(t, "Alex Rivera", first.Name)
	assert.Equal(t, "Gold Member", first.Type)
	require.NotNil(t, first.DOB)
	assert.Equal(t, time.Date(2015, 4, 9, 0, 0, 0, 0, time.UTC), *first.DOB)
	assert.Equal(t, "99001", first.SubID)
	assert.Equal(t, "5150", first.SellingPlanID)
	assert.Equal(t, "GC-777", first.Barcode)
	assert.Equal(t, "family@example.com", first.Email)

	second := members[1]
	assert.Equal(t, "Sam Rivera", second.Name)
	require.NotNil(t, second.DOB)
	assert.Equal(t, time.Date(2017, 11, 30, 0, 0, 0, 0, time.UTC), *second.DOB)
}

func TestMembersFromSubscription_SharedNameProperty(t *testing.T) {
	sub := &Subscription{
		ID: "7",
		Items: []SubscriptionItem{
			{
				Title:    "Basic Member",
				Quantity: 1,
				Properties: []Property{
					{Key: "Name", Value: "Solo Kid"},
					{Key: "Date of Birth", Value: "01/02/2018"},
				},
			},
		},
	}

	members := MembersFromSubscription(sub)

	require.Len(t, members, 1)
	assert.Equal(t, "Solo Kid", members[0].Name)
	require.NotNil(t, members[0].DOB)
}

func TestParseDateToken(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Time
	}{
		{in: "12/25/2024", want: timePtr(2024, 12, 25)},
		{in: "01/01/25", want: timePtr(2025, 1, 1)},
		{in: "06/15/99", want: timePtr(1999, 6, 15)},
		{in: "02/30/2024", want: nil},
		{in: "13/01/2024", want: nil},
		{in: "2024-12-25", want: nil},
		{in: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseDateToken(tt.in)
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
