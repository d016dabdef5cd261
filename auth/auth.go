// Package auth verifies wallet-signed requests. Every mutating API call
// carries an ed25519 signature over a canonical message built from the
// action name, the caller's address and a unix timestamp, so the server
// never holds user keys and replays expire with the timestamp window.
package auth

import (
	"crypto/ed25519"
	"strconv"
	"strings"
	"time"

	"spinvault/apperrors"

	"github.com/mr-tron/base58"
)

// Verifier checks request signatures against the caller's wallet address.
type Verifier struct {
	window time.Duration
}

// NewVerifier creates a Verifier accepting timestamps within the given
// window of the server clock, in either direction.
func NewVerifier(window time.Duration) *Verifier {
	return &Verifier{window: window}
}

// Message builds the canonical string a wallet signs for an action.
// Parameters are appended in a fixed order agreed per action, so the
// signature binds the request's semantic content, not its JSON encoding.
func Message(action, address string, timestamp int64, params ...string) string {
	parts := make([]string, 0, 3+len(params))
	parts = append(parts, action, address, strconv.FormatInt(timestamp, 10))
	parts = append(parts, params...)
	return strings.Join(parts, "|")
}

// Verify checks that signature is a valid ed25519 signature of the
// canonical message by the key the address encodes, and that the timestamp
// is fresh.
func (v *Verifier) Verify(address, signature string, timestamp int64, now time.Time, action string, params ...string) error {
	// Compare in whole seconds around the server clock. Subtracting an
	// arbitrary signed timestamp from now can wrap int64, so the bounds
	// move, not the timestamp.
	windowSec := int64(v.window / time.Second)
	if timestamp < now.Unix()-windowSec || timestamp > now.Unix()+windowSec {
		return apperrors.ErrExpiredSignature
	}

	pubKey, err := base58.Decode(address)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return apperrors.ErrBadSignature
	}

	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return apperrors.ErrBadSignature
	}

	message := Message(action, address, timestamp, params...)
	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(message), sig) {
		return apperrors.ErrBadSignature
	}
	return nil
}
