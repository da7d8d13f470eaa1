package supabridge

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnverified(t *testing.T) {
	t.Run("Decodes Payload", func(t *testing.T) {
		claims, err := ParseUnverified(unsignedToken(`{"alg":"RS256"}`, `{"sub":"u1","exp":1700000000}`))
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.String("sub"))

		exp, ok := claims.Int64("exp")
		assert.True(t, ok)
		assert.Equal(t, int64(1700000000), exp)
	})

	t.Run("Ignores Header And Signature", func(t *testing.T) {
		claims, err := ParseUnverified("not-a-header." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u1"}`)) + ".")
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.String("sub"))
	})

	t.Run("Padded And Unpadded Segments", func(t *testing.T) {
		payload := `{"sub":"abc"}`
		padded := base64.URLEncoding.EncodeToString([]byte(payload))
		unpadded := base64.RawURLEncoding.EncodeToString([]byte(payload))
		require.NotEqual(t, padded, unpadded, "Test payload should need padding")

		for _, seg := range []string{padded, unpadded} {
			claims, err := ParseUnverified("h." + seg + ".s")
			require.NoError(t, err)
			assert.Equal(t, "abc", claims.String("sub"))
		}
	})

	t.Run("Wrong Segment Count", func(t *testing.T) {
		for _, raw := range []string{"", "a", "a.b", "a.b.c.d"} {
			_, err := ParseUnverified(raw)
			assert.ErrorIs(t, err, ErrMalformedToken, "token %q", raw)
		}
	})

	t.Run("Invalid Base64", func(t *testing.T) {
		_, err := ParseUnverified("h.!!!.s")
		assert.ErrorIs(t, err, ErrDecodeError)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		_, err := ParseUnverified("h." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":`)) + ".s")
		assert.ErrorIs(t, err, ErrDecodeError)
	})

	t.Run("Trailing Data", func(t *testing.T) {
		_, err := ParseUnverified("h." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"a"} {}`)) + ".s")
		assert.ErrorIs(t, err, ErrDecodeError)
	})

	t.Run("Payload Is Not An Object", func(t *testing.T) {
		for _, payload := range []string{`[1,2]`, `"sub"`, `null`, `42`} {
			_, err := ParseUnverified("h." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".s")
			assert.ErrorIs(t, err, ErrInvalidClaims, "payload %s", payload)
		}
	})
}

func TestInspectToken(t *testing.T) {
	t.Run("Header Must Be An Object", func(t *testing.T) {
		_, _, err := inspectToken(unsignedToken(`"RS256"`, `{}`))
		assert.ErrorIs(t, err, ErrDecodeError)
	})

	t.Run("Payload Must Be An Object", func(t *testing.T) {
		_, _, err := inspectToken(unsignedToken(`{}`, `[]`))
		assert.ErrorIs(t, err, ErrDecodeError)
	})

	t.Run("Decodes Both Segments", func(t *testing.T) {
		header, claims, err := inspectToken(unsignedToken(`{"kid":"k1"}`, `{"sub":"u1"}`))
		require.NoError(t, err)
		assert.Equal(t, "k1", header["kid"])
		assert.Equal(t, "u1", claims.String("sub"))
	})
}

func TestClaimsAccessors(t *testing.T) {
	var claims Claims
	require.NoError(t, json.Unmarshal([]byte(`{"s":"x","f":1700000000.9,"n":3,"b":true}`), &claims))

	assert.Equal(t, "x", claims.String("s"))
	assert.Empty(t, claims.String("n"), "Non-string claims read as empty")
	assert.Empty(t, claims.String("missing"))

	f, ok := claims.Int64("f")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), f)

	_, ok = claims.Int64("b")
	assert.False(t, ok)

	dec := json.NewDecoder(strings.NewReader(`{"exp":1700000000}`))
	dec.UseNumber()

	var numbered Claims
	require.NoError(t, dec.Decode(&numbered))

	exp, ok := numbered.Int64("exp")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), exp)
}
