// Package app wires a bridge, its dependencies and its HTTP server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lightninginspiration/supabridge"
	"github.com/lightninginspiration/supabridge/cache"
	"github.com/lightninginspiration/supabridge/config"
	"github.com/lightninginspiration/supabridge/internal/server"
	"github.com/lightninginspiration/supabridge/secrets"
	"github.com/lightninginspiration/supabridge/signer"
)

// Options defines injectable dependencies. Unset clients are built from configuration.
type Options struct {
	// Transport fetches the upstream key set. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// Redis is used by the redis and tiered caches.
	Redis redis.UniversalClient

	// Vault is used by the vault secret source.
	Vault *vault.Client

	// KMS is used by the kms signing backend.
	KMS signer.KMSClient

	// Registry receives the bridge metrics and is served on /metrics.
	Registry *prometheus.Registry

	// TracerProvider creates spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// App is a fully wired bridge.
type App struct {
	Bridge  *supabridge.Bridge
	Handler http.Handler
	Server  *server.Server
	Metrics *supabridge.Metrics

	closers []func() error
}

// New builds an App from cfg.
//
// Parameters:
//   - ctx: Used to resolve the signing secret and to load cloud credentials.
//   - cfg: A validated configuration.
//   - logger: The process logger.
//   - optFns: A variadic list of functions to customize the Options.
//
// Returns:
//   - The wired App; call Close when done.
//   - An error if a dependency cannot be built.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, optFns ...func(o *Options)) (*App, error) {
	opts := Options{
		Transport: http.DefaultTransport,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	a := &App{
		Metrics: supabridge.NewMetrics(opts.Registry),
	}

	keyCache, err := a.buildCache(cfg, logger, &opts)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	verifier, err := a.buildVerifier(ctx, cfg, logger, keyCache, &opts)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	tokenSigner, err := a.buildSigner(ctx, cfg, &opts)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	issuer := supabridge.NewSupabaseIssuer(tokenSigner, func(o *supabridge.SupabaseIssuerOptions) {
		o.Mapper = supabridge.OutsetaClaimMapper{TokenLifetime: cfg.Signing.TokenLifetime}
	})

	a.Bridge = supabridge.New(verifier, issuer, func(o *supabridge.BridgeOptions) {
		o.StrictVerification = cfg.StrictVerification
		o.Logger = logger
		o.Metrics = a.Metrics
		o.TracerProvider = opts.TracerProvider
	})

	a.Handler = supabridge.NewHandler(a.Bridge, func(o *supabridge.HandlerOptions) {
		o.Logger = logger
		if cfg.Server.MaxBodyBytes > 0 {
			o.MaxBodyBytes = cfg.Server.MaxBodyBytes
		}
	})

	a.Server = server.New(a.Handler, func(o *server.Options) {
		o.Addr = cfg.Server.Addr
		o.ExchangePaths = cfg.Server.ExchangePaths
		o.ReadTimeout = cfg.Server.ReadTimeout
		o.WriteTimeout = cfg.Server.WriteTimeout
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		o.Gatherer = opts.Registry
		o.Logger = logger
	})

	logger.Info("bridge configured",
		zap.String("issuer", cfg.Issuer.IssuerURL()),
		zap.String("jwks_url", cfg.Issuer.JWKSURL()),
		zap.String("verifier", cfg.Issuer.Verifier),
		zap.String("signing_backend", cfg.Signing.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("strict_verification", cfg.StrictVerification),
	)

	return a, nil
}

// Run serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx)
}

// Close releases clients created by New.
func (a *App) Close() error {
	var errs []error

	for _, c := range a.closers {
		errs = append(errs, c())
	}

	a.closers = nil

	return errors.Join(errs...)
}

func (a *App) buildCache(cfg *config.Config, logger *zap.Logger, opts *Options) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendNone:
		return cache.NewNoopCache(), nil
	case config.CacheBackendMemory:
		return cache.NewMemoryCache(cfg.Cache.TTL), nil
	case config.CacheBackendRedis, config.CacheBackendTiered:
		client := opts.Redis
		if client == nil {
			rc := redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password.Value(),
				DB:       cfg.Cache.Redis.DB,
			})
			a.closers = append(a.closers, rc.Close)
			client = rc
		}

		shared := cache.NewRedisCache(client, cfg.Cache.TTL, func(o *cache.RedisCacheOptions) {
			if cfg.Cache.Redis.KeyPrefix != "" {
				o.KeyPrefix = cfg.Cache.Redis.KeyPrefix
			}

			o.OnError = func(op string, err error) {
				logger.Warn("key set cache unavailable", zap.String("op", op), zap.Error(err))
			}
		})

		if cfg.Cache.Backend == config.CacheBackendTiered {
			return cache.NewTieredCache(cache.NewMemoryCache(cfg.Cache.TTL), shared), nil
		}

		return shared, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func (a *App) buildVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger, keyCache cache.Cache, opts *Options) (supabridge.Verifier, error) {
	issuer := cfg.Issuer.IssuerURL()
	jwksURL := cfg.Issuer.JWKSURL()

	switch cfg.Issuer.Verifier {
	case config.VerifierJWKS:
		keys, err := supabridge.NewRemoteKeySet(jwksURL, func(o *supabridge.RemoteKeySetOptions) {
			o.Transport = opts.Transport
			if cfg.Issuer.FetchTimeout > 0 {
				o.Timeout = cfg.Issuer.FetchTimeout
			}
			o.MinRefetchInterval = cfg.Issuer.MinRefetchInterval
			o.Cache = keyCache
			o.Thumbprints = cfg.Issuer.Thumbprints
			o.Logger = logger
			o.Metrics = a.Metrics
			o.TracerProvider = opts.TracerProvider
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create key set: %w", err)
		}

		return supabridge.NewJWKSVerifier(keys, issuer, func(o *supabridge.JWKSVerifierOptions) {
			o.Leeway = cfg.Issuer.Leeway
			o.TracerProvider = opts.TracerProvider
		})
	case config.VerifierOIDC:
		// go-oidc keeps its own key cache; the configured cache is not used here.
		return supabridge.NewOIDCVerifier(context.WithoutCancel(ctx), issuer, jwksURL, func(o *supabridge.OIDCVerifierOptions) {
			o.Transport = opts.Transport
			o.Thumbprints = cfg.Issuer.Thumbprints
			o.TracerProvider = opts.TracerProvider

			if cfg.Issuer.FetchTimeout > 0 {
				o.Timeout = cfg.Issuer.FetchTimeout
			}
		})
	default:
		return nil, fmt.Errorf("unsupported verifier %q", cfg.Issuer.Verifier)
	}
}

func (a *App) buildSigner(ctx context.Context, cfg *config.Config, opts *Options) (supabridge.Signer, error) {
	switch cfg.Signing.Backend {
	case config.SigningBackendKMS:
		client := opts.KMS
		if client == nil {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}

			client = kms.NewFromConfig(awsCfg)
		}

		return signer.NewKMS(client, cfg.Signing.KMSKeyID), nil
	case config.SigningBackendSecret:
		source, err := secretSource(cfg, opts)
		if err != nil {
			return nil, err
		}

		value, err := source.Secret(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve signing secret: %w", err)
		}

		key, err := supabridge.DecodeSecret(value, supabridge.SecretEncoding(cfg.Signing.SecretEncoding))
		if err != nil {
			return nil, err
		}

		return supabridge.NewHMAC256Signer(key, cfg.Signing.KeyID), nil
	default:
		return nil, fmt.Errorf("unsupported signing backend %q", cfg.Signing.Backend)
	}
}

func secretSource(cfg *config.Config, opts *Options) (secrets.Source, error) {
	if cfg.Signing.SecretSource != config.SecretSourceVault {
		return secrets.Static(cfg.Signing.Secret.Value()), nil
	}

	client := opts.Vault
	if client == nil {
		vaultCfg := vault.DefaultConfig()
		vaultCfg.Address = cfg.Vault.Address

		c, err := vault.NewClient(vaultCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}

		c.SetToken(cfg.Vault.Token.Value())
		client = c
	}

	return secrets.NewVault(client, cfg.Vault.Path, func(o *secrets.VaultOptions) {
		if cfg.Vault.Mount != "" {
			o.Mount = cfg.Vault.Mount
		}

		if cfg.Vault.Field != "" {
			o.Field = cfg.Vault.Field
		}
	})
}
