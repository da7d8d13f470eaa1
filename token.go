package supabridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// segmentParser decodes token segments with or without base64 padding.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

var errNotObject = errors.New("segment is not a JSON object")

func splitToken(raw string) ([]string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, newError(KindMalformedToken, "", fmt.Errorf("token has %d segments, want 3", len(parts)))
	}

	return parts, nil
}

// decodeSegment decodes one base64url JSON segment into an object. Numbers are kept as
// json.Number. A well-formed value that is not an object yields errNotObject.
func decodeSegment(seg, name string) (map[string]any, error) {
	data, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return nil, newError(KindDecodeError, "", fmt.Errorf("failed to decode %s: %w", name, err))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newError(KindDecodeError, "", fmt.Errorf("failed to parse %s: %w", name, err))
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, newError(KindDecodeError, "", fmt.Errorf("failed to parse %s: trailing data", name))
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}

	return obj, nil
}

// inspectToken checks the token structure and decodes header and payload without
// verifying anything.
func inspectToken(raw string) (map[string]any, Claims, error) {
	parts, err := splitToken(raw)
	if err != nil {
		return nil, nil, err
	}

	header, err := decodeSegment(parts[0], "header")
	if errors.Is(err, errNotObject) {
		return nil, nil, newError(KindDecodeError, "", fmt.Errorf("header: %w", err))
	}

	if err != nil {
		return nil, nil, err
	}

	payload, err := decodeSegment(parts[1], "payload")
	if errors.Is(err, errNotObject) {
		return nil, nil, newError(KindDecodeError, "", fmt.Errorf("payload: %w", err))
	}

	if err != nil {
		return nil, nil, err
	}

	return header, Claims(payload), nil
}

// ParseUnverified decodes the payload of a token without checking its signature or claims.
// The header and signature segments are not inspected.
//
// Returns:
//   - The decoded claims.
//   - A MalformedToken error if the token does not have three segments, a DecodeError if the
//     payload is not base64url JSON, or InvalidClaims if the payload is not a JSON object.
func ParseUnverified(raw string) (Claims, error) {
	parts, err := splitToken(raw)
	if err != nil {
		return nil, err
	}

	payload, err := decodeSegment(parts[1], "payload")
	if errors.Is(err, errNotObject) {
		return nil, newError(KindInvalidClaims, "", err)
	}

	if err != nil {
		return nil, err
	}

	return Claims(payload), nil
}
