package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// AESSealer encrypts payloads with AES-256-GCM under a static 32-byte key,
// for local development and tests where no KMS key is configured. Sealed
// format is "<iv-hex>:<ciphertext-hex>:<tag-hex>" (spec §6), with the GCM
// tag carried separately from the ciphertext for readability even though
// Go's cipher.AEAD appends it to the ciphertext internally.
type AESSealer struct {
	gcm cipher.AEAD
}

// NewAESSealer builds an AESSealer from a 32-byte key. key must be exactly
// 32 bytes (AES-256); callers typically derive it from the SEALING_KEY
// environment variable.
func NewAESSealer(key []byte) (*AESSealer, error) {
	if len(key) != 32 {
		return nil, apierrors.Internal("sealing key must be 32 bytes", fmt.Errorf("got %d bytes", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierrors.Internal("failed to init AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apierrors.Internal("failed to init AES-GCM", err)
	}
	return &AESSealer{gcm: gcm}, nil
}

var _ Sealer = (*AESSealer)(nil)

func (s *AESSealer) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apierrors.Internal("failed to generate IV", err)
	}

	sealed := s.gcm.Seal(nil, iv, plaintext, nil)
	tagSize := s.gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(ciphertext), hex.EncodeToString(tag)), nil
}

func (s *AESSealer) Unseal(sealed string) ([]byte, error) {
	var ivHex, ctHex, tagHex string
	parts := splitThree(sealed)
	if parts == nil {
		return nil, apierrors.Validation("malformed sealed key").WithDetails("reason", "expected iv:ciphertext:tag")
	}
	ivHex, ctHex, tagHex = parts[0], parts[1], parts[2]

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, apierrors.Validation("malformed sealed key iv")
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, apierrors.Validation("malformed sealed key ciphertext")
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return nil, apierrors.Validation("malformed sealed key tag")
	}

	combined := append(ciphertext, tag...)
	plaintext, err := s.gcm.Open(nil, iv, combined, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "failed to unseal key", err)
	}
	return plaintext, nil
}

// splitThree splits s on ':' into exactly three parts, or returns nil.
func splitThree(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if len(parts) != 3 {
		return nil
	}
	return parts
}
