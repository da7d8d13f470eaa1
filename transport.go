package supabridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// thumbprintValidatingTransport is a custom HTTP transport that removes key set entries
// whose RFC 7638 thumbprint is not pinned. Responses from other paths pass through untouched.
type thumbprintValidatingTransport struct {
	// transport is the underlying HTTP RoundTripper that handles the actual HTTP requests.
	transport http.RoundTripper

	// jwksPath is the URL path of the key set document.
	jwksPath string

	// thumbprints is the list of pinned thumbprints.
	thumbprints []string

	// decoders turn entries into public keys for hashing.
	decoders []KeyDecoder
}

// newThumbprintValidatingTransport wraps base so that key set documents served at jwksPath
// only ever contain pinned keys.
func newThumbprintValidatingTransport(base http.RoundTripper, jwksPath string, thumbprints []string, decoders []KeyDecoder) (http.RoundTripper, error) {
	for _, thumbprint := range thumbprints {
		if !isValidBase64URLEncoding(thumbprint) {
			return nil, fmt.Errorf("invalid thumbprint format: %s", thumbprint)
		}
	}

	if base == nil {
		base = http.DefaultTransport
	}

	return &thumbprintValidatingTransport{
		transport:   base,
		jwksPath:    jwksPath,
		thumbprints: thumbprints,
		decoders:    decoders,
	}, nil
}

// RoundTrip executes the HTTP request and filters the key set in successful responses.
func (t *thumbprintValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform HTTP request: %w", err)
	}

	if req.URL.Path != t.jwksPath || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response body: %w", err)
	}

	parsedJWKS, err := ParseJWKS(body)
	if err != nil {
		return nil, err
	}

	filtered := JWKS{Keys: []JWK{}}

	for _, key := range parsedJWKS.Keys {
		pub, err := decodeKey(t.decoders, key)
		if err != nil {
			continue
		}

		thumbprint, err := Thumbprint(pub)
		if err != nil {
			continue
		}

		if slices.Contains(t.thumbprints, thumbprint) {
			filtered.Keys = append(filtered.Keys, key)
		}
	}

	filteredBytes, err := json.Marshal(filtered)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filtered JWKS: %w", err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(filteredBytes))
	resp.ContentLength = int64(len(filteredBytes))
	resp.Header.Set("Content-Type", "application/json")

	return resp, nil
}

// isValidBase64URLEncoding checks if the given string is valid unpadded base64url.
func isValidBase64URLEncoding(s string) bool {
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
