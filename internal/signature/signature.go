// Package signature authenticates inbound provider webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Verifier checks an HMAC-SHA512 signature over the exact raw request body.
// Each webhook route owns a Verifier bound to that route's secret, so the
// expected secret is never derived from attacker-controlled payload content.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for one route secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify computes HMAC-SHA512 over rawBody and compares it to the signature
// header in constant time. The raw bytes must be captured before any body
// parsing; the parsed object is not guaranteed byte-identical to what was
// signed.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) bool {
	if len(v.secret) == 0 {
		return false
	}
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return false
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}

// Sign returns the hex HMAC-SHA512 of body. Used by tests and the mock
// gateway to produce valid callbacks.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
