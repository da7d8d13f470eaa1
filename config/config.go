// Package config loads the bridge configuration from defaults, an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lightninginspiration/supabridge"
)

// EnvPrefix prefixes every environment variable, e.g. SUPABRIDGE_SERVER_ADDR.
const EnvPrefix = "SUPABRIDGE"

// Secret is a string that redacts itself when printed or serialized. Use Value to read it.
type Secret string

const secretRedacted = "[REDACTED]"

// String returns a placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns a placeholder.
func (s Secret) GoString() string { return secretRedacted }

// MarshalText returns a placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// Config holds the bridge configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Issuer  IssuerConfig  `mapstructure:"issuer"`
	Signing SigningConfig `mapstructure:"signing"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Vault   VaultConfig   `mapstructure:"vault"`

	// StrictVerification rejects tokens that fail verification instead of falling back
	// to their unverified payload.
	StrictVerification bool `mapstructure:"strict_verification"`
}

// ServerConfig describes the HTTP listener and its exchange routes.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ExchangePaths   []string      `mapstructure:"exchange_paths"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// LogConfig selects the log level and the json or console encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IssuerConfig describes the upstream identity provider.
type IssuerConfig struct {
	// Domain is the provider's host, e.g. "tenant.outseta.com".
	Domain string `mapstructure:"domain"`

	// Issuer overrides the iss value required on upstream tokens. Defaults to https://<domain>.
	Issuer string `mapstructure:"issuer"`

	JWKSPath     string        `mapstructure:"jwks_path"`
	Verifier     string        `mapstructure:"verifier"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Thumbprints  []string      `mapstructure:"thumbprints"`
	Leeway       time.Duration `mapstructure:"leeway"`

	// MinRefetchInterval spaces out key set refetches caused by unknown kids.
	MinRefetchInterval time.Duration `mapstructure:"min_refetch_interval"`
}

// SigningConfig describes how platform tokens are signed.
type SigningConfig struct {
	Backend        string        `mapstructure:"backend"`
	Secret         Secret        `mapstructure:"secret"`
	SecretEncoding string        `mapstructure:"secret_encoding"`
	SecretSource   string        `mapstructure:"secret_source"`
	KeyID          string        `mapstructure:"key_id"`
	KMSKeyID       string        `mapstructure:"kms_key_id"`
	TokenLifetime  time.Duration `mapstructure:"token_lifetime"`
}

// CacheConfig describes the key set cache.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig locates the shared key set cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  Secret `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// VaultConfig locates the signing secret in a KV version 2 engine.
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   Secret `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
	Path    string `mapstructure:"path"`
	Field   string `mapstructure:"field"`
}

// Enumerated values.
const (
	VerifierJWKS = "jwks"
	VerifierOIDC = "oidc"

	SigningBackendSecret = "secret"
	SigningBackendKMS    = "kms"

	SecretSourceStatic = "static"
	SecretSourceVault  = "vault"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendTiered = "tiered"
	CacheBackendNone   = "none"
)

// IssuerURL returns the iss value required on upstream tokens.
func (c IssuerConfig) IssuerURL() string {
	if c.Issuer != "" {
		return c.Issuer
	}

	return supabridge.IssuerURL(c.Domain)
}

// JWKSURL returns the URL of the provider's key set.
func (c IssuerConfig) JWKSURL() string {
	return supabridge.JWKSURL(c.Domain, c.JWKSPath)
}

// Validate checks for required values and known enum values.
func (c *Config) Validate() error {
	var errs []error

	if c.Issuer.Domain == "" {
		errs = append(errs, errors.New("issuer.domain is required"))
	} else if strings.Contains(c.Issuer.Domain, "://") {
		errs = append(errs, fmt.Errorf("issuer.domain %q must be a host name, not a URL", c.Issuer.Domain))
	}

	if c.Issuer.Issuer != "" {
		if u, err := url.Parse(c.Issuer.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("issuer.issuer %q is not an absolute URL", c.Issuer.Issuer))
		}
	}

	if !strings.HasPrefix(c.Issuer.JWKSPath, "/") {
		errs = append(errs, fmt.Errorf("issuer.jwks_path %q must start with /", c.Issuer.JWKSPath))
	}

	if !oneOf(c.Issuer.Verifier, VerifierJWKS, VerifierOIDC) {
		errs = append(errs, fmt.Errorf("issuer.verifier %q must be one of jwks, oidc", c.Issuer.Verifier))
	}

	switch c.Signing.Backend {
	case SigningBackendSecret:
		switch c.Signing.SecretSource {
		case SecretSourceStatic:
			if c.Signing.Secret.Value() == "" {
				errs = append(errs, errors.New("signing.secret is required"))
			}
		case SecretSourceVault:
			if c.Vault.Address == "" || c.Vault.Path == "" {
				errs = append(errs, errors.New("vault.address and vault.path are required for signing.secret_source vault"))
			}
		default:
			errs = append(errs, fmt.Errorf("signing.secret_source %q must be one of static, vault", c.Signing.SecretSource))
		}

		if !oneOf(c.Signing.SecretEncoding, "base64", "raw") {
			errs = append(errs, fmt.Errorf("signing.secret_encoding %q must be one of base64, raw", c.Signing.SecretEncoding))
		}
	case SigningBackendKMS:
		if c.Signing.KMSKeyID == "" {
			errs = append(errs, errors.New("signing.kms_key_id is required for signing.backend kms"))
		}
	default:
		errs = append(errs, fmt.Errorf("signing.backend %q must be one of secret, kms", c.Signing.Backend))
	}

	if c.Signing.TokenLifetime <= 0 {
		errs = append(errs, errors.New("signing.token_lifetime must be positive"))
	}

	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendNone:
	case CacheBackendRedis, CacheBackendTiered:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("cache.redis.addr is required for cache.backend %s", c.Cache.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be one of memory, redis, tiered, none", c.Cache.Backend))
	}

	if len(c.Server.ExchangePaths) == 0 {
		errs = append(errs, errors.New("server.exchange_paths must not be empty"))
	}

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}

	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.exchange_paths", []string{"/exchange", "/functions/v1/exchange"})
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("issuer.domain", "")
	v.SetDefault("issuer.issuer", "")
	v.SetDefault("issuer.jwks_path", "/.well-known/jwks")
	v.SetDefault("issuer.verifier", VerifierJWKS)
	v.SetDefault("issuer.fetch_timeout", 5*time.Second)
	v.SetDefault("issuer.thumbprints", []string{})
	v.SetDefault("issuer.leeway", time.Duration(0))
	v.SetDefault("issuer.min_refetch_interval", 10*time.Second)

	v.SetDefault("signing.backend", SigningBackendSecret)
	v.SetDefault("signing.secret", "")
	v.SetDefault("signing.secret_encoding", "base64")
	v.SetDefault("signing.secret_source", SecretSourceStatic)
	v.SetDefault("signing.key_id", "")
	v.SetDefault("signing.kms_key_id", "")
	v.SetDefault("signing.token_lifetime", time.Hour)

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "supabridge:jwks:")

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount", "secret")
	v.SetDefault("vault.path", "")
	v.SetDefault("vault.field", "jwt_secret")

	v.SetDefault("strict_verification", false)
}
