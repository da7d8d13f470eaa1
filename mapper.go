package supabridge

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthenticatedRole is used as both audience and role of every issued token.
	AuthenticatedRole = "authenticated"

	// ProviderOutseta is recorded as app_metadata.provider.
	ProviderOutseta = "outseta"

	// UnknownSubject is the subject used when the upstream token has neither sub nor email.
	UnknownSubject = "unknown_user"

	// DefaultTokenLifetime applies when the upstream token has no usable exp.
	DefaultTokenLifetime = time.Hour
)

// Upstream claim names carrying Outseta account data.
const (
	ClaimAccountUID      = "outseta:accountUid"
	ClaimSubscriptionUID = "outseta:subscriptionUid"
	ClaimPlanUID         = "outseta:planUid"
)

// AppMetadata is the app_metadata object of an issued token.
type AppMetadata struct {
	Provider string `json:"provider"`
}

// UserMetadata is the user_metadata object of an issued token.
type UserMetadata struct {
	FullName              string `json:"full_name"`
	OutsetaID             string `json:"outseta_id"`
	OutsetaAccountID      string `json:"outseta_account_id"`
	OutsetaSubscriptionID string `json:"outseta_subscription_id"`
	OutsetaPlanID         string `json:"outseta_plan_id"`
}

// TargetClaims is the claim set of a token issued for the data platform.
// Audience serialises as a single string, which the platform expects.
type TargetClaims struct {
	Audience     string       `json:"aud"`
	Role         string       `json:"role"`
	Subject      string       `json:"sub"`
	ExpiresAt    int64        `json:"exp"`
	IssuedAt     int64        `json:"iat"`
	Email        string       `json:"email"`
	AppMetadata  AppMetadata  `json:"app_metadata"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// GetExpirationTime implements the jwt.Claims interface.
func (c TargetClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

// GetIssuedAt implements the jwt.Claims interface.
func (c TargetClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

// GetNotBefore implements the jwt.Claims interface.
func (c TargetClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements the jwt.Claims interface.
func (c TargetClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements the jwt.Claims interface.
func (c TargetClaims) GetSubject() (string, error) {
	return c.Subject, nil
}

// GetAudience implements the jwt.Claims interface.
func (c TargetClaims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// ClaimMapper translates upstream claims into the platform claim set.
type ClaimMapper interface {
	// MapClaims builds the target claims. now is the issuing time.
	MapClaims(claims Claims, now time.Time) (*TargetClaims, error)
}

// OutsetaClaimMapper maps Outseta identity claims onto the platform's authenticated role.
type OutsetaClaimMapper struct {
	// TokenLifetime is used when the source has no exp. Defaults to DefaultTokenLifetime.
	TokenLifetime time.Duration
}

// MapClaims builds the target claims from upstream claims.
//
// The subject is the first non-empty of sub and email, else UnknownSubject. The source exp
// is carried over when it is a non-zero number; otherwise the token expires TokenLifetime
// after now. iat is always now. Missing string claims map to "".
//
// Returns:
//   - The target claims.
//   - An InvalidClaims error if claims is nil.
func (m OutsetaClaimMapper) MapClaims(claims Claims, now time.Time) (*TargetClaims, error) {
	if claims == nil {
		return nil, newError(KindInvalidClaims, "", nil)
	}

	lifetime := m.TokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	subject := claims.String("sub")
	if subject == "" {
		subject = claims.String("email")
	}

	if subject == "" {
		subject = UnknownSubject
	}

	exp, ok := claims.Int64("exp")
	if !ok || exp == 0 {
		exp = now.Add(lifetime).Unix()
	}

	return &TargetClaims{
		Audience:  AuthenticatedRole,
		Role:      AuthenticatedRole,
		Subject:   subject,
		ExpiresAt: exp,
		IssuedAt:  now.Unix(),
		Email:     claims.String("email"),
		AppMetadata: AppMetadata{
			Provider: ProviderOutseta,
		},
		UserMetadata: UserMetadata{
			FullName:              claims.String("name"),
			OutsetaID:             claims.String("sub"),
			OutsetaAccountID:      claims.String(ClaimAccountUID),
			OutsetaSubscriptionID: claims.String(ClaimSubscriptionUID),
			OutsetaPlanID:         claims.String(ClaimPlanUID),
		},
	}, nil
}
