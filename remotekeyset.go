package supabridge

import (
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lightninginspiration/supabridge/cache"
)

const (
	// DefaultJWKSPath is where the upstream identity provider publishes its key set.
	DefaultJWKSPath = "/.well-known/jwks"

	// DefaultFetchTimeout bounds a single key set request.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMinRefetchInterval spaces out refetches triggered by an unknown kid.
	DefaultMinRefetchInterval = 10 * time.Second

	maxJWKSBytes = 1 << 20
)

// KeyProvider resolves the public key that signed an upstream token.
type KeyProvider interface {
	// PublicKey returns the verification key for kid, or a KeyNotFound error.
	PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// RemoteKeySetOptions configures a RemoteKeySet.
type RemoteKeySetOptions struct {
	// Transport is an optional custom HTTP transport used for fetching the key set.
	Transport http.RoundTripper

	// Timeout bounds each fetch. Defaults to DefaultFetchTimeout.
	Timeout time.Duration

	// Cache stores fetched documents keyed by key set URL. Defaults to no caching.
	Cache cache.Cache

	// MinRefetchInterval is the shortest time between a fetch and a refetch caused by a
	// kid missing from the cached document. Zero refetches on every miss.
	MinRefetchInterval time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Decoders are tried in order for the matched entry. Defaults to DefaultKeyDecoders.
	Decoders []KeyDecoder

	// Thumbprints, if set, pins the accepted keys by RFC 7638 SHA-256 thumbprint.
	Thumbprints []string

	// Logger receives fetch diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics records lookups. Optional.
	Metrics *Metrics

	// TracerProvider creates fetch spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// RemoteKeySet fetches the upstream key set over HTTPS and resolves keys by kid.
// It is safe for concurrent use.
type RemoteKeySet struct {
	jwksURL string
	client  *http.Client
	tracer  trace.Tracer
	opts    RemoteKeySetOptions

	mu          sync.Mutex
	nextRefetch time.Time
}

// NewRemoteKeySet creates a KeyProvider for the key set published at jwksURL.
//
// Parameters:
//   - jwksURL: The absolute URL of the key set document.
//   - optFns: A variadic list of functions to customize the RemoteKeySetOptions.
//
// Returns:
//   - A new RemoteKeySet.
//   - An error if the URL or the pinned thumbprints are invalid.
func NewRemoteKeySet(jwksURL string, optFns ...func(o *RemoteKeySetOptions)) (*RemoteKeySet, error) {
	u, err := url.Parse(jwksURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid JWKS URL %q", jwksURL)
	}

	opts := RemoteKeySetOptions{
		Transport: http.DefaultTransport,
		Timeout:            DefaultFetchTimeout,
		MinRefetchInterval: DefaultMinRefetchInterval,
		Now:                time.Now,
		Cache:              cache.NewNoopCache(),
		Decoders:           DefaultKeyDecoders(),
		Logger:             zap.NewNop(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	transport := opts.Transport
	if len(opts.Thumbprints) > 0 {
		transport, err = newThumbprintValidatingTransport(opts.Transport, u.Path, opts.Thumbprints, opts.Decoders)
		if err != nil {
			return nil, err
		}
	}

	return &RemoteKeySet{
		jwksURL: jwksURL,
		client:  &http.Client{Transport: transport},
		tracer:  tracerFrom(opts.TracerProvider),
		opts:    opts,
	}, nil
}

// URL returns the key set URL.
func (k *RemoteKeySet) URL() string {
	return k.jwksURL
}

// PublicKey returns the verification key for kid. A cached document that does not contain
// kid is refreshed once, so rotated keys are picked up without waiting for expiry. Such
// refetches happen at most once per MinRefetchInterval.
func (k *RemoteKeySet) PublicKey(ctx context.Context, kid string) (_ crypto.PublicKey, err error) {
	if kid == "" {
		return nil, newError(KindKeyNotFound, ReasonMissingKid, nil)
	}

	ctx, span := startSpan(ctx, k.tracer, "supabridge.FetchKeySet")
	span.SetAttributes(attribute.String("jwks.url", k.jwksURL), attribute.String("jwks.kid", kid))

	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	if doc, ok := k.opts.Cache.Get(ctx, k.jwksURL); ok {
		if set, perr := ParseJWKS(doc); perr == nil {
			if jwk, found := set.Lookup(kid); found {
				k.opts.Metrics.RecordKeySetFetch("hit")
				return k.decode(jwk)
			}
		}

		if !k.reserveRefetch() {
			k.opts.Metrics.RecordKeySetFetch("throttled")
			return nil, newError(KindKeyNotFound, ReasonNotFound, fmt.Errorf("no key with kid %q", kid))
		}

		k.opts.Logger.Debug("cached key set misses kid, refetching", zap.String("kid", kid))
	}

	set, err := k.fetch(ctx)
	if err != nil {
		k.opts.Metrics.RecordKeySetFetch("error")
		k.opts.Logger.Warn("failed to fetch key set", zap.String("url", k.jwksURL), zap.Error(err))

		return nil, err
	}

	k.opts.Metrics.RecordKeySetFetch("fetched")

	jwk, found := set.Lookup(kid)
	if !found {
		return nil, newError(KindKeyNotFound, ReasonNotFound, fmt.Errorf("no key with kid %q", kid))
	}

	return k.decode(jwk)
}

// reserveRefetch reports whether a refetch may start now and, if so, claims the slot.
func (k *RemoteKeySet) reserveRefetch() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.opts.Now()
	if now.Before(k.nextRefetch) {
		return false
	}

	k.nextRefetch = now.Add(k.opts.MinRefetchInterval)

	return true
}

func (k *RemoteKeySet) markFetched() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if next := k.opts.Now().Add(k.opts.MinRefetchInterval); next.After(k.nextRefetch) {
		k.nextRefetch = next
	}
}

func (k *RemoteKeySet) decode(jwk JWK) (crypto.PublicKey, error) {
	pub, err := decodeKey(k.opts.Decoders, jwk)
	if err != nil {
		return nil, newError(KindKeyNotFound, ReasonDecodeFailed, err)
	}

	return pub, nil
}

// fetch downloads and parses the key set, storing the raw document in the cache.
func (k *RemoteKeySet) fetch(ctx context.Context) (*JWKS, error) {
	ctx, cancel := context.WithTimeout(ctx, k.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL, nil)
	if err != nil {
		return nil, newError(KindKeyNotFound, ReasonFetchFailed, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, newError(KindKeyNotFound, ReasonFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(KindKeyNotFound, ReasonBadStatus, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, k.jwksURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes+1))
	if err != nil {
		return nil, newError(KindKeyNotFound, ReasonFetchFailed, fmt.Errorf("failed to read JWKS response body: %w", err))
	}

	if len(body) > maxJWKSBytes {
		return nil, newError(KindKeyNotFound, ReasonInvalidJWKS, fmt.Errorf("key set exceeds %d bytes", maxJWKSBytes))
	}

	set, err := ParseJWKS(body)
	if err != nil {
		return nil, newError(KindKeyNotFound, ReasonInvalidJWKS, err)
	}

	k.opts.Cache.Set(ctx, k.jwksURL, body)
	k.markFetched()

	return set, nil
}

// IssuerURL turns an issuer domain into the issuer URL expected in the iss claim.
// Values that already carry a scheme are returned without a trailing slash.
func IssuerURL(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(domain, "https://") || strings.HasPrefix(domain, "http://") {
		return domain
	}

	return "https://" + domain
}

// JWKSURL returns the key set URL for an issuer domain. An empty path selects DefaultJWKSPath.
func JWKSURL(domain, path string) string {
	if path == "" {
		path = DefaultJWKSPath
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return IssuerURL(domain) + path
}
