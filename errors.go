package supabridge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure that occurred while exchanging a token.
type ErrorKind string

const (
	// KindMalformedToken means the token does not have exactly three dot-separated segments.
	KindMalformedToken ErrorKind = "malformed_token"

	// KindDecodeError means a header or payload segment is not valid base64url JSON.
	KindDecodeError ErrorKind = "decode_error"

	// KindKeyNotFound means no usable public key could be obtained for the token's kid.
	KindKeyNotFound ErrorKind = "key_not_found"

	// KindSignatureInvalid means the signature did not verify against the resolved key.
	KindSignatureInvalid ErrorKind = "signature_invalid"

	// KindClaimInvalid means the signature verified but a registered claim was rejected.
	KindClaimInvalid ErrorKind = "claim_invalid"

	// KindInvalidClaims means the payload could not be interpreted as a claim set.
	KindInvalidClaims ErrorKind = "invalid_claims"

	// KindSigningError means the target token could not be produced.
	KindSigningError ErrorKind = "signing_error"

	// KindInternal covers everything else.
	KindInternal ErrorKind = "internal_error"
)

// Reasons attached to KeyNotFound and ClaimInvalid errors.
const (
	ReasonMissingKid   = "missing_kid"
	ReasonFetchFailed  = "fetch_failed"
	ReasonBadStatus    = "bad_status"
	ReasonInvalidJWKS  = "invalid_jwks"
	ReasonNotFound     = "not_found"
	ReasonDecodeFailed = "decode_failed"
	ReasonExpired      = "expired"
	ReasonIssuer       = "issuer"
	ReasonNotYetValid  = "not_yet_valid"
	ReasonMissingClaim = "missing_claim"
)

// Recoverable reports whether a failure of this kind is eligible for the
// unverified-decode fallback.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindMalformedToken, KindDecodeError, KindKeyNotFound, KindSignatureInvalid, KindClaimInvalid:
		return true
	default:
		return false
	}
}

// Error is the error type returned by the verification and issuing pipeline.
type Error struct {
	// Kind is the failure class.
	Kind ErrorKind

	// Reason optionally narrows the kind, e.g. "expired" for a ClaimInvalid error.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind, so that errors.Is(err, ErrKeyNotFound)
// holds for any KeyNotFound error regardless of reason or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrMalformedToken   = &Error{Kind: KindMalformedToken}
	ErrDecodeError      = &Error{Kind: KindDecodeError}
	ErrKeyNotFound      = &Error{Kind: KindKeyNotFound}
	ErrSignatureInvalid = &Error{Kind: KindSignatureInvalid}
	ErrClaimInvalid     = &Error{Kind: KindClaimInvalid}
	ErrInvalidClaims    = &Error{Kind: KindInvalidClaims}
	ErrSigningError     = &Error{Kind: KindSigningError}
	ErrInternal         = &Error{Kind: KindInternal}

	// ErrNoToken is returned when a request carries no token at all.
	ErrNoToken = errors.New("no token provided")
)

func newError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}

	return ""
}
