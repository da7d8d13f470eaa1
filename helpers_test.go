package supabridge

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testDomain  = "tenant.outseta.com"
	testIssuer  = "https://tenant.outseta.com"
	testJWKSURL = "https://tenant.outseta.com/.well-known/jwks"
)

// fakeRoundTripper serves canned responses and counts requests.
type fakeRoundTripper struct {
	mu      sync.Mutex
	calls   int
	respond func(req *http.Request) (*http.Response, error)
}

func (f *fakeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	return f.respond(req)
}

func (f *fakeRoundTripper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// jwksTransport serves set at testJWKSURL's path and 404 elsewhere.
func jwksTransport(t *testing.T, set JWKS) *fakeRoundTripper {
	t.Helper()

	body, err := json.Marshal(set)
	require.NoError(t, err)

	return &fakeRoundTripper{respond: func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != DefaultJWKSPath {
			return jsonResponse(http.StatusNotFound, []byte(`{"error":"not found"}`)), nil
		}

		return jsonResponse(http.StatusOK, body), nil
	}}
}

func failingTransport() *fakeRoundTripper {
	return &fakeRoundTripper{respond: func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
}

// hangingTransport never answers; it returns only when the request is cancelled.
func hangingTransport() *fakeRoundTripper {
	return &fakeRoundTripper{respond: func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}}
}

func jsonResponse(status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "Failed to generate RSA key")

	return key
}

func newECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "Failed to generate EC key")

	return key
}

// certificateJWK returns an entry that carries the key only as a self-signed x5c certificate.
func certificateJWK(t *testing.T, kid string, key crypto.Signer) JWK {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: testDomain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err, "Failed to create certificate")

	kty := "RSA"
	if _, ok := key.Public().(*ecdsa.PublicKey); ok {
		kty = "EC"
	}

	return JWK{
		Kty: kty,
		Use: "sig",
		Kid: kid,
		X5c: []string{base64.StdEncoding.EncodeToString(der)},
	}
}

// parametersJWK returns an entry carrying direct key parameters.
func parametersJWK(t *testing.T, kid string, pub crypto.PublicKey) JWK {
	t.Helper()

	data, err := jose.JSONWebKey{Key: pub, KeyID: kid, Use: "sig"}.MarshalJSON()
	require.NoError(t, err)

	var jwk JWK
	require.NoError(t, json.Unmarshal(data, &jwk))

	return jwk
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	require.NoError(t, err, "Failed to sign test token")

	return signed
}

func upstreamClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                     testIssuer,
		"sub":                     "person-uid-1",
		"email":                   "reader@example.com",
		"name":                    "Ada Reader",
		"exp":                     now.Add(30 * time.Minute).Unix(),
		"iat":                     now.Unix(),
		"outseta:accountUid":      "account-uid-1",
		"outseta:subscriptionUid": "subscription-uid-1",
		"outseta:planUid":         "plan-uid-1",
	}
}

// unsignedToken builds a token from raw JSON segments with a junk signature.
func unsignedToken(header, payload string) string {
	enc := base64.RawURLEncoding

	return strings.Join([]string{
		enc.EncodeToString([]byte(header)),
		enc.EncodeToString([]byte(payload)),
		enc.EncodeToString([]byte("signature")),
	}, ".")
}
