// Package signing provides deterministic payload canonicalization and
// HMAC-SHA256 request signatures.
//
// Canonicalization follows RFC 8785 (JSON Canonicalization Scheme): object
// keys are sorted lexicographically at every depth, arrays preserve order,
// scalars use the standard JSON encoding. Two semantically identical
// payloads with differently ordered fields always produce the same
// signature.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/tbcoin-labs/core/pkg/faults"
)

// Canonicalize returns the RFC 8785 canonical JSON form of v.
func Canonicalize(v any) (string, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return "", fmt.Errorf("canonicalize: transform failed: %w", err)
	}
	return string(canonical), nil
}

// Compute returns the hex HMAC-SHA256 of the canonical form of payload,
// keyed by secret.
func Compute(payload any, secret string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the expected signature for payload and compares it in
// constant time against provided. Every failure mode returns the same
// authorization error; callers learn nothing about why verification failed.
func Verify(payload any, provided, secret string) error {
	expected, err := Compute(payload, secret)
	if err != nil {
		return err
	}
	providedRaw, err := hex.DecodeString(provided)
	if err != nil {
		return faults.Authorizationf("invalid signature")
	}
	expectedRaw, _ := hex.DecodeString(expected)
	if len(providedRaw) != len(expectedRaw) || !hmac.Equal(providedRaw, expectedRaw) {
		return faults.Authorizationf("invalid signature")
	}
	return nil
}
