package supabridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSigner struct{ err error }

func (f failingSigner) SignToken(context.Context, *jwt.Token) (string, error) {
	return "", f.err
}

func (f failingSigner) SigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

func (f failingSigner) KeyID() string {
	return ""
}

type mapperFunc func(Claims, time.Time) (*TargetClaims, error)

func (f mapperFunc) MapClaims(c Claims, now time.Time) (*TargetClaims, error) { return f(c, now) }

func TestSupabaseIssuer(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	secret := []byte("platform-shared-secret")

	newIssuer := func(signer Signer, optFns ...func(o *SupabaseIssuerOptions)) *SupabaseIssuer {
		return NewSupabaseIssuer(signer, append([]func(o *SupabaseIssuerOptions){
			func(o *SupabaseIssuerOptions) { o.Now = func() time.Time { return now } },
		}, optFns...)...)
	}

	t.Run("IssueToken", func(t *testing.T) {
		issuer := newIssuer(NewHMAC256Signer(secret, ""))

		signed, target, err := issuer.IssueToken(ctx, Claims(upstreamClaims(now)))
		require.NoError(t, err)
		assert.Equal(t, "person-uid-1", target.Subject)

		parsed := &TargetClaims{}
		token, err := jwt.ParseWithClaims(signed, parsed, func(*jwt.Token) (any, error) {
			return secret, nil
		},
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithAudience(AuthenticatedRole),
			jwt.WithTimeFunc(func() time.Time { return now }),
		)
		require.NoError(t, err)
		assert.True(t, token.Valid)
		assert.Equal(t, target, parsed)
		assert.Equal(t, now.Unix(), parsed.IssuedAt)
		assert.NotContains(t, token.Header, "kid")
	})

	t.Run("Header Is Exactly Alg And Typ", func(t *testing.T) {
		signed, _, err := newIssuer(NewHMAC256Signer(secret, "")).IssueToken(ctx, Claims{"sub": "x"})
		require.NoError(t, err)

		header, err := segmentParser.DecodeSegment(splitOrFail(t, signed)[0])
		require.NoError(t, err)
		assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(header))
	})

	t.Run("Key ID Header", func(t *testing.T) {
		signed, _, err := newIssuer(NewHMAC256Signer(secret, "v2")).IssueToken(ctx, Claims{"sub": "x"})
		require.NoError(t, err)

		header, err := segmentParser.DecodeSegment(splitOrFail(t, signed)[0])
		require.NoError(t, err)

		var h map[string]any
		require.NoError(t, json.Unmarshal(header, &h))
		assert.Equal(t, "v2", h["kid"])
	})

	t.Run("Signing Failure", func(t *testing.T) {
		_, _, err := newIssuer(failingSigner{err: errors.New("hsm offline")}).IssueToken(ctx, Claims{"sub": "x"})
		assert.ErrorIs(t, err, ErrSigningError)
		assert.ErrorContains(t, err, "hsm offline")
	})

	t.Run("Mapping Failure", func(t *testing.T) {
		issuer := newIssuer(NewHMAC256Signer(secret, ""), func(o *SupabaseIssuerOptions) {
			o.Mapper = mapperFunc(func(Claims, time.Time) (*TargetClaims, error) {
				return nil, errors.New("unsupported claims")
			})
		})

		_, _, err := issuer.IssueToken(ctx, Claims{"sub": "x"})
		assert.ErrorIs(t, err, ErrInvalidClaims)
	})

	t.Run("Nil Claims", func(t *testing.T) {
		_, _, err := newIssuer(NewHMAC256Signer(secret, "")).IssueToken(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidClaims)
	})
}

func splitOrFail(t *testing.T, raw string) []string {
	t.Helper()

	parts, err := splitToken(raw)
	require.NoError(t, err)

	return parts
}
