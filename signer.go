package supabridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is an interface that defines methods for signing JWT tokens and describing
// the signing key.
type Signer interface {
	// SignToken signs the given JWT token using the signing algorithm and returns the signed string.
	SignToken(ctx context.Context, token *jwt.Token) (string, error)

	// SigningMethod returns the JWT signing method.
	SigningMethod() jwt.SigningMethod

	// KeyID returns the Key ID placed in the token header. Empty means no kid header.
	KeyID() string
}

// SecretEncoding describes how a configured shared secret is turned into key bytes.
type SecretEncoding string

const (
	// SecretEncodingBase64 decodes the configured value as standard base64.
	SecretEncodingBase64 SecretEncoding = "base64"

	// SecretEncodingRaw uses the bytes of the configured value as-is.
	SecretEncodingRaw SecretEncoding = "raw"
)

// DecodeSecret turns a configured shared secret into HMAC key bytes. Base64 values are
// accepted with or without padding. The secret never appears in returned errors.
func DecodeSecret(value string, encoding SecretEncoding) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, newError(KindSigningError, "", fmt.Errorf("signing secret is empty"))
	}

	switch encoding {
	case SecretEncodingRaw:
		return []byte(value), nil
	case SecretEncodingBase64, "":
		if key, err := base64.StdEncoding.DecodeString(value); err == nil {
			return key, nil
		}

		key, err := base64.RawStdEncoding.DecodeString(value)
		if err != nil {
			return nil, newError(KindSigningError, "", fmt.Errorf("signing secret is not valid base64"))
		}

		return key, nil
	default:
		return nil, newError(KindSigningError, "", fmt.Errorf("unsupported secret encoding %q", encoding))
	}
}

// NewHMAC256Signer creates a new HMAC signer using the HS256 signing method.
func NewHMAC256Signer(secret []byte, keyID string) Signer {
	return &hmacSigner{
		secret:        append([]byte(nil), secret...),
		keyID:         keyID,
		signingMethod: jwt.SigningMethodHS256,
	}
}

// hmacSigner is an implementation of the Signer interface that signs JWT tokens using the HMAC algorithm.
type hmacSigner struct {
	secret        []byte
	keyID         string // Key ID for identifying the key
	signingMethod jwt.SigningMethod
}

// SignToken signs the given JWT token using the HMAC secret and returns the signed token string.
func (s *hmacSigner) SignToken(_ context.Context, token *jwt.Token) (string, error) {
	if len(s.secret) == 0 {
		return "", newError(KindSigningError, "", fmt.Errorf("signing secret is empty"))
	}

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", newError(KindSigningError, "", err)
	}

	return signed, nil
}

// SigningMethod returns the HMAC signing method.
func (s *hmacSigner) SigningMethod() jwt.SigningMethod {
	return s.signingMethod
}

// KeyID returns the key ID for the HMAC key.
func (s *hmacSigner) KeyID() string {
	return s.keyID
}
