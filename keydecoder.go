package supabridge

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// KeyDecoder turns a key set entry into a public key usable for signature verification.
// Each implementation handles one encoding of the key material.
type KeyDecoder interface {
	// CanDecode reports whether the entry carries material this decoder understands.
	CanDecode(jwk JWK) bool

	// Decode returns the public key held by the entry.
	Decode(jwk JWK) (crypto.PublicKey, error)
}

// DefaultKeyDecoders returns the decoders tried in order when no others are configured:
// the inline certificate chain first, then the direct key parameters.
func DefaultKeyDecoders() []KeyDecoder {
	return []KeyDecoder{CertificateChainDecoder{}, JWKDecoder{}}
}

// CertificateChainDecoder decodes the first certificate of an entry's x5c chain.
type CertificateChainDecoder struct{}

// CanDecode reports whether the entry has at least one certificate.
func (CertificateChainDecoder) CanDecode(jwk JWK) bool {
	return len(jwk.X5c) > 0 && jwk.X5c[0] != ""
}

// Decode parses x5c[0] as a DER certificate and returns its public key. Material that is
// not a certificate is retried as a bare SubjectPublicKeyInfo.
func (CertificateChainDecoder) Decode(jwk JWK) (crypto.PublicKey, error) {
	if len(jwk.X5c) == 0 {
		return nil, fmt.Errorf("key %q has no certificate chain", jwk.Kid)
	}

	der, err := base64.StdEncoding.DecodeString(jwk.X5c[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}

	var pub any

	if cert, certErr := x509.ParseCertificate(der); certErr == nil {
		pub = cert.PublicKey
	} else {
		pub, err = x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", certErr)
		}
	}

	return checkVerificationKey(pub)
}

// JWKDecoder decodes an entry from its direct key parameters (n/e, crv/x/y).
type JWKDecoder struct{}

// CanDecode reports whether the entry carries direct key parameters.
func (JWKDecoder) CanDecode(jwk JWK) bool {
	switch jwk.Kty {
	case "RSA":
		return jwk.N != "" && jwk.E != ""
	case "EC", "OKP":
		return jwk.Crv != "" && jwk.X != ""
	default:
		return false
	}
}

// Decode builds the public key from the entry's parameters.
func (JWKDecoder) Decode(jwk JWK) (crypto.PublicKey, error) {
	// The chain is handled by CertificateChainDecoder; leaving it in would make
	// the parameters subject to certificate consistency checks.
	jwk.X5c = nil
	jwk.X5t = ""

	data, err := json.Marshal(jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key %q: %w", jwk.Kid, err)
	}

	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode key %q: %w", jwk.Kid, err)
	}

	if !key.IsPublic() {
		key = key.Public()
	}

	return checkVerificationKey(key.Key)
}

// decodeKey runs the entry through the first decoder able to handle it.
func decodeKey(decoders []KeyDecoder, jwk JWK) (crypto.PublicKey, error) {
	for _, d := range decoders {
		if d.CanDecode(jwk) {
			return d.Decode(jwk)
		}
	}

	return nil, fmt.Errorf("no decoder for key %q of type %q", jwk.Kid, jwk.Kty)
}

func checkVerificationKey(pub any) (crypto.PublicKey, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of a public key, base64url encoded.
func Thumbprint(pub crypto.PublicKey) (string, error) {
	key := jose.JSONWebKey{Key: pub}

	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to calculate thumbprint: %w", err)
	}

	if len(sum) != sha256.Size {
		return "", fmt.Errorf("unexpected thumbprint length %d", len(sum))
	}

	return base64.RawURLEncoding.EncodeToString(sum), nil
}
