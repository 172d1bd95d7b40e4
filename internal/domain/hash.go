package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefix for content-addressed dedupe keys. Version suffix enables
// future algorithm migration without colliding with old keys.
const dedupeDomain = "marketsync/action/v1"

// ActionDedupeKey computes the content-addressed dedupe key for an offline
// action. Two actions with the same entity kind, action kind, and payload
// content produce the same key, regardless of payload key order or
// whitespace.
//
// The action ID, retry counters, and timestamps are intentionally excluded:
// the key identifies WHAT mutation is queued, not when or how often it has
// been attempted.
//
// Format: SHA256(domain 0x00 entity 0x00 kind 0x00 canonicalPayload).
// The null separators prevent field boundary ambiguity.
func ActionDedupeKey(entity Kind, kind ActionKind, payload json.RawMessage) (string, error) {
	canonical, err := CanonicalizeRaw(payload)
	if err != nil {
		return "", fmt.Errorf("dedupe key: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(dedupeDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(entity))
	h.Write([]byte{0x00})
	h.Write([]byte(kind))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
