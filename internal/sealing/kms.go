package sealing

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// kmsClient is the subset of *kms.Client this package depends on, so tests
// can substitute a fake.
type kmsClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSSealer seals private key bytes with direct AWS KMS Encrypt/Decrypt
// calls under KeyARN.
// Sealed format is "kms:<base64 ciphertext blob>" (spec §6).
type KMSSealer struct {
	Client  kmsClient
	KeyARN  string
	Context context.Context
}

var _ Sealer = (*KMSSealer)(nil)

func (s *KMSSealer) ctx() context.Context {
	if s.Context != nil {
		return s.Context
	}
	return context.Background()
}

func (s *KMSSealer) Seal(plaintext []byte) (string, error) {
	out, err := s.Client.Encrypt(s.ctx(), &kms.EncryptInput{
		KeyId:     aws.String(s.KeyARN),
		Plaintext: plaintext,
	})
	if err != nil {
		return "", apierrors.Upstream("KMS encrypt failed", err)
	}
	return "kms:" + base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (s *KMSSealer) Unseal(sealed string) ([]byte, error) {
	const prefix = "kms:"
	if len(sealed) < len(prefix) || sealed[:len(prefix)] != prefix {
		return nil, apierrors.Validation("malformed KMS sealed key")
	}
	blob, err := base64.StdEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return nil, apierrors.Validation("malformed KMS sealed key encoding")
	}

	out, err := s.Client.Decrypt(s.ctx(), &kms.DecryptInput{
		KeyId:          aws.String(s.KeyARN),
		CiphertextBlob: blob,
	})
	if err != nil {
		return nil, apierrors.Upstream("KMS decrypt failed", err)
	}
	return out.Plaintext, nil
}
