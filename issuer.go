package supabridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer defines an interface for issuing platform tokens.
type TokenIssuer interface {
	// IssueToken maps the upstream claims and returns the signed token with the claims it carries.
	IssueToken(ctx context.Context, claims Claims) (string, *TargetClaims, error)
}

// SupabaseIssuerOptions defines the configuration options for the SupabaseIssuer.
type SupabaseIssuerOptions struct {
	// Mapper builds the target claims. Defaults to OutsetaClaimMapper.
	Mapper ClaimMapper

	// Now returns the issuing time. Defaults to time.Now.
	Now func() time.Time
}

// SupabaseIssuer issues HS256 tokens for the data platform.
type SupabaseIssuer struct {
	signer Signer
	opts   SupabaseIssuerOptions
}

// NewSupabaseIssuer creates a new SupabaseIssuer instance with the provided signer and optional configuration functions.
//
// Parameters:
//   - signer: A Signer implementation used to sign the generated tokens.
//   - optFns: A variadic list of functions to customize the SupabaseIssuerOptions.
//
// Returns:
//   - A new SupabaseIssuer instance configured with the provided options.
func NewSupabaseIssuer(signer Signer, optFns ...func(o *SupabaseIssuerOptions)) *SupabaseIssuer {
	opts := SupabaseIssuerOptions{
		Mapper: OutsetaClaimMapper{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &SupabaseIssuer{signer: signer, opts: opts}
}

// IssueToken maps claims and signs the result.
//
// Parameters:
//   - ctx: The context used for signing.
//   - claims: The upstream claims, verified or not.
//
// Returns:
//   - The signed compact token.
//   - The claims embedded in the token.
//   - An InvalidClaims error if the claims cannot be mapped, or a SigningError.
func (si *SupabaseIssuer) IssueToken(ctx context.Context, claims Claims) (string, *TargetClaims, error) {
	target, err := si.opts.Mapper.MapClaims(claims, si.opts.Now())
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return "", nil, err
		}

		return "", nil, newError(KindInvalidClaims, "", err)
	}

	token := jwt.NewWithClaims(si.signer.SigningMethod(), target)

	if kid := si.signer.KeyID(); kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := si.signer.SignToken(ctx, token)
	if err != nil {
		if KindOf(err) == KindSigningError {
			return "", nil, err
		}

		return "", nil, newError(KindSigningError, "", fmt.Errorf("failed to sign token: %w", err))
	}

	return signed, target, nil
}
