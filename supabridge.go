// Package supabridge exchanges identity tokens issued by Outseta for HS256 tokens
// accepted by a Supabase project. Upstream tokens are verified against the issuer's
// published key set; when verification fails the bridge can fall back to the unverified
// payload, depending on BridgeOptions.StrictVerification.
package supabridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrVerificationFailed wraps the verification error returned in strict mode.
var ErrVerificationFailed = errors.New("token verification failed")

// User is the minimal user projection returned with an issued token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ExchangeResult is the outcome of a successful exchange.
type ExchangeResult struct {
	// Token is the signed platform token.
	Token string

	// User is taken from the claims the token was built from.
	User User

	// Claims are the claims embedded in Token.
	Claims *TargetClaims

	// Verified is false when Token was built from unverified claims.
	Verified bool

	// VerificationError is the reason verification failed on the fallback path.
	VerificationError error
}

// BridgeOptions defines the configuration options for a Bridge.
type BridgeOptions struct {
	// StrictVerification rejects tokens that fail verification instead of falling back
	// to their unverified payload. The default favours availability.
	StrictVerification bool

	// Logger receives exchange diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics records exchanges. Optional.
	Metrics *Metrics

	// TracerProvider creates exchange spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Bridge verifies upstream tokens and issues platform tokens for them.
type Bridge struct {
	verifier Verifier
	issuer   TokenIssuer
	tracer   trace.Tracer
	opts     BridgeOptions
}

// New creates and returns a new Bridge.
//
// Parameters:
//   - verifier: Verifies upstream tokens.
//   - issuer: Maps claims and signs platform tokens.
//   - optFns: A variadic list of functions to customize the BridgeOptions.
//
// Returns:
//   - A new Bridge instance.
func New(verifier Verifier, issuer TokenIssuer, optFns ...func(o *BridgeOptions)) *Bridge {
	opts := BridgeOptions{
		Logger: zap.NewNop(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bridge{
		verifier: verifier,
		issuer:   issuer,
		tracer:   tracerFrom(opts.TracerProvider),
		opts:     opts,
	}
}

// Exchange turns an upstream token into a platform token.
//
// The token is verified first. If verification fails with a recoverable kind and strict
// verification is off, the payload is decoded without verification and used instead; the
// result is then marked unverified. Other verification failures are returned as they are.
//
// Parameters:
//   - ctx: The context for managing the request lifecycle.
//   - rawToken: The compact upstream token.
//
// Returns:
//   - The issued token and the user projection.
//   - ErrNoToken for an empty token; in strict mode an error wrapping ErrVerificationFailed;
//     otherwise an *Error of kind MalformedToken, DecodeError or InvalidClaims when even the
//     bare decode fails, or SigningError.
func (b *Bridge) Exchange(ctx context.Context, rawToken string) (_ *ExchangeResult, err error) {
	start := time.Now()
	path := PathRejected

	ctx, span := startSpan(ctx, b.tracer, "supabridge.Exchange")

	defer func() {
		result := "success"
		if err != nil {
			result = string(KindOf(err))
		}

		b.opts.Metrics.RecordExchange(path, result, time.Since(start))
		span.SetAttributes(attribute.String("exchange.path", path))
		finishSpan(span, err)
		span.End()
	}()

	if rawToken == "" {
		return nil, ErrNoToken
	}

	claims, verifyErr := b.verifier.Verify(ctx, rawToken)
	if verifyErr != nil {
		b.opts.Metrics.RecordVerificationFailure(KindOf(verifyErr))

		if !KindOf(verifyErr).Recoverable() {
			b.opts.Logger.Error("token verification failed unexpectedly", zap.Error(verifyErr))
			return nil, verifyErr
		}

		if b.opts.StrictVerification {
			b.opts.Logger.Info("rejected token that failed verification",
				zap.String("kind", string(KindOf(verifyErr))),
				zap.String("reason", ReasonOf(verifyErr)),
				zap.Error(verifyErr),
			)

			return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, verifyErr)
		}

		b.opts.Logger.Warn("token verification failed, issuing from unverified claims",
			zap.String("kind", string(KindOf(verifyErr))),
			zap.String("reason", ReasonOf(verifyErr)),
			zap.Error(verifyErr),
		)

		claims, err = ParseUnverified(rawToken)
		if err != nil {
			return nil, err
		}

		path = PathFallback
	} else {
		path = PathVerified
	}

	token, target, err := b.issuer.IssueToken(ctx, claims)
	if err != nil {
		b.opts.Logger.Error("failed to issue token", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	b.opts.Logger.Info("exchanged token",
		zap.String("path", path),
		zap.String("sub", target.Subject),
	)

	return &ExchangeResult{
		Token: token,
		User: User{
			ID:    claims.String("sub"),
			Email: claims.String("email"),
			Name:  claims.String("name"),
		},
		Claims:            target,
		Verified:          verifyErr == nil,
		VerificationError: verifyErr,
	}, nil
}
