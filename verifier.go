package supabridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Verifier checks an upstream token and returns its trusted claims.
type Verifier interface {
	// Verify returns the claims of rawToken, or an *Error describing why it was rejected.
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

// DefaultSigningAlgs lists the asymmetric algorithms accepted on upstream tokens.
// Symmetric algorithms are never accepted against a public key set.
var DefaultSigningAlgs = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// JWKSVerifierOptions defines the configuration options for the JWKSVerifier.
type JWKSVerifierOptions struct {
	// SupportedSigningAlgs restricts the header algorithms accepted. Defaults to DefaultSigningAlgs.
	SupportedSigningAlgs []string

	// Leeway is the clock skew tolerated on exp and nbf.
	Leeway time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// TracerProvider creates verification spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// JWKSVerifier verifies upstream tokens against keys resolved through a KeyProvider.
type JWKSVerifier struct {
	keys   KeyProvider
	issuer string
	parser *jwt.Parser
	tracer trace.Tracer
	opts   JWKSVerifierOptions
}

// NewJWKSVerifier creates a verifier that accepts tokens signed by a key from keys and
// issued by issuer.
//
// Parameters:
//   - keys: The provider resolving a token's kid to a public key.
//   - issuer: The exact value required in the iss claim.
//   - optFns: A variadic list of functions to customize the JWKSVerifierOptions.
//
// Returns:
//   - A new JWKSVerifier.
//   - An error if keys or issuer is missing.
func NewJWKSVerifier(keys KeyProvider, issuer string, optFns ...func(o *JWKSVerifierOptions)) (*JWKSVerifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("key provider cannot be nil")
	}

	if issuer == "" {
		return nil, fmt.Errorf("issuer cannot be empty")
	}

	opts := JWKSVerifierOptions{
		SupportedSigningAlgs: DefaultSigningAlgs,
		Now:                  time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(opts.SupportedSigningAlgs),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithTimeFunc(opts.Now),
		jwt.WithPaddingAllowed(),
		jwt.WithJSONNumber(),
	)

	return &JWKSVerifier{
		keys:   keys,
		issuer: issuer,
		parser: parser,
		tracer: tracerFrom(opts.TracerProvider),
		opts:   opts,
	}, nil
}

// Issuer returns the issuer required on verified tokens.
func (v *JWKSVerifier) Issuer() string {
	return v.issuer
}

// Verify checks the structure, signature, issuer and expiry of rawToken, in that order.
// A token without exp is accepted.
//
// Parameters:
//   - ctx: The context used for key lookups.
//   - rawToken: The compact upstream token.
//
// Returns:
//   - The verified claims.
//   - An *Error of kind MalformedToken, DecodeError, KeyNotFound, SignatureInvalid or ClaimInvalid.
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (_ Claims, err error) {
	ctx, span := startSpan(ctx, v.tracer, "supabridge.Verify")

	defer func() {
		if err != nil {
			span.SetAttributes(attribute.String("error.kind", string(KindOf(err))))
		}

		finishSpan(span, err)
		span.End()
	}()

	header, _, err := inspectToken(rawToken)
	if err != nil {
		return nil, err
	}

	kid, _ := header["kid"].(string)
	if kid == "" {
		return nil, newError(KindKeyNotFound, ReasonMissingKid, nil)
	}

	key, err := v.keys.PublicKey(ctx, kid)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}

		return nil, newError(KindKeyNotFound, ReasonFetchFailed, err)
	}

	claims := jwt.MapClaims{}

	if _, err := v.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, classifyJWTError(err)
	}

	return Claims(claims), nil
}

// classifyJWTError maps golang-jwt validation errors onto the bridge taxonomy.
// Signatures are checked before claims, so claim errors imply a valid signature.
func classifyJWTError(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(KindClaimInvalid, ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return newError(KindClaimInvalid, ReasonIssuer, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return newError(KindClaimInvalid, ReasonMissingClaim, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return newError(KindClaimInvalid, ReasonNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return newError(KindClaimInvalid, "", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newError(KindDecodeError, "", err)
	default:
		return newError(KindSignatureInvalid, "", err)
	}
}
