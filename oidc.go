package supabridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/trace"
)

// OIDCVerifierOptions defines the available configuration options for the OIDCVerifier.
type OIDCVerifierOptions struct {
	// Transport is an optional custom HTTP transport used for fetching the key set.
	Transport http.RoundTripper

	// Timeout bounds each key set request and each Verify call. Defaults to DefaultFetchTimeout.
	Timeout time.Duration

	// Thumbprints is a list of valid thumbprints for the keys used to verify tokens.
	// If this is set, the transport will be configured to validate the thumbprints of the keys.
	Thumbprints []string

	// SupportedSigningAlgs is a list of signing algorithms supported for verifying tokens.
	// Defaults to DefaultSigningAlgs.
	SupportedSigningAlgs []string

	// SkipExpiryCheck controls whether the expiry check is skipped during verification.
	SkipExpiryCheck bool

	// Now is a function that returns the current time, which can be used for expiry and validity checks.
	// If not provided, the default time function (time.Now) is used.
	Now func() time.Time

	// TracerProvider creates verification spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// OIDCVerifier verifies upstream tokens with go-oidc against a remote key set, without
// provider discovery. Issuer and expiry are checked here after go-oidc has verified the
// signature, so the check order and the optional exp match JWKSVerifier.
type OIDCVerifier struct {
	issuer   string
	verifier *oidc.IDTokenVerifier
	tracer   trace.Tracer
	opts     OIDCVerifierOptions
}

// NewOIDCVerifier creates a new OIDCVerifier instance using the provided configuration options.
//
// Parameters:
//   - ctx: The context used for key set requests; it must outlive the verifier.
//   - issuer: The exact value required in the iss claim.
//   - jwksURL: The URL of the issuer's key set.
//   - optFns: A variadic list of functions to customize the OIDCVerifierOptions.
//
// Returns:
//   - A new OIDCVerifier instance.
//   - An error if the issuer, the key set URL or a thumbprint is invalid.
func NewOIDCVerifier(ctx context.Context, issuer, jwksURL string, optFns ...func(o *OIDCVerifierOptions)) (*OIDCVerifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer cannot be empty")
	}

	u, err := url.Parse(jwksURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid JWKS URL %q", jwksURL)
	}

	opts := OIDCVerifierOptions{
		Transport:            http.DefaultTransport,
		Timeout:              DefaultFetchTimeout,
		SupportedSigningAlgs: DefaultSigningAlgs,
		SkipExpiryCheck:      false,
		Now:                  time.Now,
	}

	// Apply custom options provided through optFns
	for _, fn := range optFns {
		fn(&opts)
	}

	// Create a transport layer that checks for thumbprints, if provided.
	transport := opts.Transport
	if len(opts.Thumbprints) > 0 {
		transport, err = newThumbprintValidatingTransport(opts.Transport, u.Path, opts.Thumbprints, DefaultKeyDecoders())
		if err != nil {
			return nil, err
		}
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}

	// go-oidc shares one in-flight download between callers; the client timeout ends it.
	clientCtx := oidc.ClientContext(ctx, &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	})

	keySet := oidc.NewRemoteKeySet(clientCtx, jwksURL)

	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		SupportedSigningAlgs: opts.SupportedSigningAlgs,
		SkipClientIDCheck:    true,
		SkipExpiryCheck:      true,
		SkipIssuerCheck:      true,
		Now:                  opts.Now,
	})

	return &OIDCVerifier{
		issuer:   issuer,
		verifier: verifier,
		tracer:   tracerFrom(opts.TracerProvider),
		opts:     opts,
	}, nil
}

// Issuer returns the issuer required on verified tokens.
func (p *OIDCVerifier) Issuer() string {
	return p.issuer
}

// Verify verifies the provided raw token against the remote key set.
//
// Parameters:
//   - ctx: The context used for making requests.
//   - rawToken: The compact upstream token.
//
// Returns:
//   - The verified claims.
//   - An *Error classified the same way as JWKSVerifier errors.
func (p *OIDCVerifier) Verify(ctx context.Context, rawToken string) (_ Claims, err error) {
	ctx, span := startSpan(ctx, p.tracer, "supabridge.Verify")

	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	header, _, err := inspectToken(rawToken)
	if err != nil {
		return nil, err
	}

	// go-oidc reports a disallowed alg as a malformed token.
	if alg, _ := header["alg"].(string); !slices.Contains(p.opts.SupportedSigningAlgs, alg) {
		return nil, newError(KindSignatureInvalid, "", fmt.Errorf("signing method %q is not allowed", alg))
	}

	verifyCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	idToken, err := p.verifier.Verify(verifyCtx, rawToken)
	if err != nil {
		return nil, classifyOIDCError(err)
	}

	if idToken.Issuer != p.issuer {
		return nil, newError(KindClaimInvalid, ReasonIssuer, fmt.Errorf("token issued by %q, want %q", idToken.Issuer, p.issuer))
	}

	if !p.opts.SkipExpiryCheck && !idToken.Expiry.IsZero() && !p.opts.Now().Before(idToken.Expiry) {
		return nil, newError(KindClaimInvalid, ReasonExpired, fmt.Errorf("token expired at %s", idToken.Expiry.UTC().Format(time.RFC3339)))
	}

	claims := Claims{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, newError(KindInvalidClaims, "", fmt.Errorf("failed to parse token claims: %w", err))
	}

	return claims, nil
}

// classifyOIDCError maps go-oidc failures onto the bridge taxonomy. go-oidc formats its
// errors with %v, so they are matched by message.
func classifyOIDCError(err error) *Error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "malformed jwt"), strings.Contains(msg, "failed to unmarshal claims"):
		return newError(KindDecodeError, "", err)
	case strings.Contains(msg, "failed to decode keys"):
		return newError(KindKeyNotFound, ReasonInvalidJWKS, err)
	case strings.Contains(msg, "get keys failed: "):
		return newError(KindKeyNotFound, ReasonBadStatus, err)
	case strings.Contains(msg, "fetching keys"), strings.Contains(msg, "get keys failed"):
		return newError(KindKeyNotFound, ReasonFetchFailed, err)
	default:
		return newError(KindSignatureInvalid, "", err)
	}
}
