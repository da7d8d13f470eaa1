package supabridge

import (
	"encoding/json"
	"fmt"
)

// JWKS represents a JSON Web Key Set as published by the upstream identity provider.
type JWKS struct {
	// Keys is the list of published keys.
	Keys []JWK `json:"keys"`
}

// JWK is a single entry of a key set. An entry carries either an inline
// certificate chain (X5c), direct key parameters, or both.
type JWK struct {
	// Kty (Key Type) indicates the algorithm family of the key (e.g., "RSA", "EC").
	Kty string `json:"kty"`

	// Alg is the algorithm intended for use with the key (e.g., "RS256").
	Alg string `json:"alg,omitempty"`

	// Use is the intended key usage ("sig").
	Use string `json:"use,omitempty"`

	// Kid is the key identifier referenced by token headers.
	Kid string `json:"kid"`

	// N and E are the RSA modulus and exponent.
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// Crv, X and Y describe an elliptic curve or OKP key.
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`

	// X5c is the certificate chain; each entry is standard base64 DER.
	// The first certificate holds the signing key.
	X5c []string `json:"x5c,omitempty"`

	// X5t is the SHA-1 thumbprint of the first certificate.
	X5t string `json:"x5t,omitempty"`
}

// ParseJWKS parses a JSON Web Key Set from a JSON-encoded byte slice.
//
// Returns:
// - *JWKS: The parsed key set.
// - error: An error if the document is not a key set.
func ParseJWKS(data []byte) (*JWKS, error) {
	var jwks JWKS
	if err := json.Unmarshal(data, &jwks); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	if jwks.Keys == nil {
		return nil, fmt.Errorf("failed to parse JWKS: missing keys array")
	}

	return &jwks, nil
}

// Lookup returns the first key whose kid equals the given one.
func (s *JWKS) Lookup(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}

	return JWK{}, false
}
