// Package ordercode produces the opaque correlation artifacts round-tripped
// through external payment providers: a reversible intent token, a random
// order id, and a deterministic numeric order code.
package ordercode

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/big"

	"github.com/google/uuid"
)

// ErrDecode marks a token that could not be reversed into an intent.
// Decoding fails closed: a corrupted token never resolves to a zero owner.
var ErrDecode = errors.New("order token decode failed")

// OrderIDLength is the fixed length of generated order ids.
const OrderIDLength = 16

const orderIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Intent is the purchase intent embedded in an order token. Providers echo
// the token back verbatim, letting settlement recover the intent without a
// server-side lookup keyed by provider track id alone.
type Intent struct {
	OwnerID   uuid.UUID  `json:"o"`
	VoucherID *uuid.UUID `json:"v,omitempty"`
	PackageID *uuid.UUID `json:"p,omitempty"`
}

// Encode serializes the intent, compresses it, and base64url-encodes it.
// The transform is pure and deterministic; the token is compact because
// providers impose length limits on correlation fields.
func Encode(intent Intent) (string, error) {
	if intent.OwnerID == uuid.Nil {
		return "", fmt.Errorf("encode order token: owner id is required")
	}

	raw, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("encode order token: %w", err)
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("encode order token: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("encode order token: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode order token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Absent optional fields are tolerated; anything
// else that deviates from a well-formed token returns ErrDecode.
func Decode(token string) (Intent, error) {
	var intent Intent
	if token == "" {
		return intent, ErrDecode
	}

	compressed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return intent, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	zr := flate.NewReader(bytes.NewReader(compressed))
	raw, err := io.ReadAll(zr)
	if err != nil {
		return intent, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := zr.Close(); err != nil {
		return intent, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&intent); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if intent.OwnerID == uuid.Nil {
		return Intent{}, fmt.Errorf("%w: missing owner id", ErrDecode)
	}
	return intent, nil
}

// NewOrderID returns a random fixed-length order id over a 36-symbol
// alphabet. Uniqueness is enforced by the caller against storage.
func NewOrderID() (string, error) {
	id := make([]byte, OrderIDLength)
	max := big.NewInt(int64(len(orderIDAlphabet)))
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate order id: %w", err)
		}
		id[i] = orderIDAlphabet[n.Int64()]
	}
	return string(id), nil
}

// NumericCode derives a stable numeric order code from an order id for
// providers that only accept numeric references. Retries of the same logical
// request map to the same code, keeping provider-side submission idempotent.
func NumericCode(orderID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(orderID))
	// Keep it positive and inside common provider field widths (12 digits).
	return int64(h.Sum64() % 1_000_000_000_000)
}
