// Package signer provides Signer implementations backed by external key services.
package signer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lightninginspiration/supabridge"
)

// KMSClient defines the methods that are needed from AWS KMS client for signing tokens.
type KMSClient interface {
	// GenerateMac computes an HMAC of a message with the given key using KMS.
	GenerateMac(ctx context.Context, input *kms.GenerateMacInput, optFns ...func(*kms.Options)) (*kms.GenerateMacOutput, error)
}

// KMS represents a signer that produces HS256 signatures with an AWS KMS HMAC key.
// The key must be an HMAC_256 key, usually imported from the platform's shared secret,
// so the secret itself never leaves KMS.
type KMS struct {
	kmsClient KMSClient // AWS KMS client
	keyID     string    // The ID of the KMS key used for signing
}

// NewKMS creates a new instance of KMS with the given client and key ID.
func NewKMS(kmsClient KMSClient, keyID string) supabridge.Signer {
	return &KMS{
		kmsClient: kmsClient,
		keyID:     keyID,
	}
}

// SignToken signs a JWT token using the KMS service. It serializes the token and lets KMS
// compute the HMAC over the signing input.
//
// Parameters:
//   - ctx: The context to use for the signing request.
//   - token: The JWT token that needs to be signed.
//
// Returns:
//   - The signed JWT token as a string.
//   - A SigningError if the signing process fails.
func (s *KMS) SignToken(ctx context.Context, token *jwt.Token) (string, error) {
	if token.Method != jwt.SigningMethodHS256 {
		return "", signingError(fmt.Errorf("unsupported signing method: %s", token.Method.Alg()))
	}

	// Serialize the token into a string for signing
	tokenString, err := token.SigningString()
	if err != nil {
		return "", signingError(fmt.Errorf("failed to serialize token: %w", err))
	}

	out, err := s.kmsClient.GenerateMac(ctx, &kms.GenerateMacInput{
		KeyId:        aws.String(s.keyID),
		Message:      []byte(tokenString),
		MacAlgorithm: types.MacAlgorithmSpecHmacSha256,
	})
	if err != nil {
		return "", signingError(fmt.Errorf("failed to sign with KMS: %w", err))
	}

	return fmt.Sprintf("%s.%s", tokenString, base64.RawURLEncoding.EncodeToString(out.Mac)), nil
}

// SigningMethod returns HS256.
func (s *KMS) SigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

// KeyID returns an empty string: the platform expects no kid header, and the KMS key ID is
// not a public identifier.
func (s *KMS) KeyID() string {
	return ""
}

// KMSKeyID returns the ID of the KMS key used for signing.
func (s *KMS) KMSKeyID() string {
	return s.keyID
}

func signingError(err error) error {
	return &supabridge.Error{Kind: supabridge.KindSigningError, Err: err}
}
