// Package idutil provides the digest normalization and hashing helpers that
// must produce identical values on the API and enclave sides (spec §4.6).
package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// NormalizeDigest validates and normalizes a wire-format digest: 64 hex
// characters, optional "0x"/"0X" prefix, returned lowercase without prefix.
func NormalizeDigest(raw string) (string, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	s = strings.ToLower(s)
	if len(s) != 64 {
		return "", apierrors.Validation("digest must be 32 bytes (64 hex characters)")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", apierrors.Validation("digest must be valid hex")
	}
	return s, nil
}

// DigestBytes decodes a normalized digest into its 32 raw bytes.
func DigestBytes(normalized string) ([]byte, error) {
	b, err := hex.DecodeString(normalized)
	if err != nil {
		return nil, apierrors.Validation("digest must be valid hex")
	}
	if len(b) != 32 {
		return nil, apierrors.Validation("digest must be 32 bytes")
	}
	return b, nil
}

// DigestHash computes sha256(hex_decode(digest_hex)), hex-encoded, exactly
// as both the API and enclave must compute it independently.
func DigestHash(normalizedDigestHex string) (string, error) {
	b, err := DigestBytes(normalizedDigestHex)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
