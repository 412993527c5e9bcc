package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature_RoundTrip(t *testing.T) {
	body := []byte(`{"id": 1001, "line_items": []}`)
	secret := "shpss_test_secret"

	assert.True(t, VerifySignature(body, secret, Sign(body, secret)))
}

func TestVerifySignature_MutatedBody(t *testing.T) {
	body := []byte(`{"id": 1001, "line_items": []}`)
	secret := "shpss_test_secret"
	sig := Sign(body, secret)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, VerifySignature(mutated, secret, sig), "bit flip at byte %d accepted", i)
	}
}

func TestVerifySignature_MutatedSignature(t *testing.T) {
	body := []byte(`{"id": 1001}`)
	secret := "secret"
	sig := []byte(Sign(body, secret))

	// Flip one character; keep it valid base64 so the mutation reaches the
	// comparison instead of failing to decode.
	if sig[0] != 'A' {
		sig[0] = 'A'
	} else {
		sig[0] = 'B'
	}
	assert.False(t, VerifySignature(body, secret, string(sig)))
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"id": 1001}`)

	sig := Sign(body, "secret-a")
	assert.False(t, VerifySignature(body, "secret-b", sig))
}

func TestVerifySignature_BadHeaders(t *testing.T) {
	body := []byte(`{"id": 1001}`)
	secret := "secret"

	tests := []struct {
		name   string
		header string
	}{
		{name: "absent", header: ""},
		{name: "not base64", header: "!!!not-base64!!!"},
		{name: "wrong length", header: "YWJj"},
		{name: "raw body as signature", header: string(body)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				assert.False(t, VerifySignature(body, secret, tt.header))
			})
		})
	}
}

func TestVerifySignature_ExactBytesMatter(t *testing.T) {
	// Signing compact JSON must not verify a re-serialized equivalent.
	compact := []byte(`{"a":1,"b":2}`)
	pretty := []byte(`{"a": 1, "b": 2}`)
	secret := "secret"

	sig := Sign(compact, secret)
	assert.True(t, VerifySignature(compact, secret, sig))
	assert.False(t, VerifySignature(pretty, secret, sig))
}
