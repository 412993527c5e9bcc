package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Signature header names used by the supported platforms.
const (
	ShopifySignatureHeader = "X-Shopify-Hmac-Sha256"
	SealSignatureHeader    = "X-Seal-Hmac-Sha256"
)

// Sign computes the base64-encoded HMAC-SHA256 digest of body under secret,
// the scheme every supported platform uses for webhook authenticity.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header carries a valid signature for the
// exact bytes received on the wire. It must run on the raw body before any
// JSON parsing: re-serialization reorders keys and changes whitespace, which
// breaks the digest.
//
// It returns false, never panics, for an empty header, malformed base64, or a
// length mismatch. The decoded digests are compared in constant time.
func VerifySignature(rawBody []byte, secret, header string) bool {
	if header == "" {
		return false
	}

	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, provided) == 1
}
