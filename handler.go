package supabridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxBodyBytes caps how much of a request body is read when looking for a token.
const DefaultMaxBodyBytes = 1 << 20

// CORS values sent on every response.
var (
	CORSAllowMethods = []string{http.MethodPost, http.MethodOptions}
	CORSAllowHeaders = []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"}
)

// Error messages of the wire contract.
const (
	MsgMethodNotAllowed   = "Method not allowed"
	MsgNoToken            = "No token provided"
	MsgInvalidTokenFormat = "Invalid token format"
	MsgVerificationFailed = "Token verification failed"
	MsgExchangeFailed     = "Token exchange failed"
)

// Exchanger is the operation served by the handler. *Bridge implements it.
type Exchanger interface {
	Exchange(ctx context.Context, rawToken string) (*ExchangeResult, error)
}

// ExchangeResponse is the body of a successful exchange.
type ExchangeResponse struct {
	SupabaseJWT string `json:"supabaseJwt"`
	User        User   `json:"user"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HandlerOptions defines the configuration options for the exchange handler.
type HandlerOptions struct {
	// Logger receives request diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// MaxBodyBytes caps the request body read. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

type handler struct {
	exchanger Exchanger
	opts      HandlerOptions
}

// NewHandler returns the HTTP endpoint of the bridge.
//
// The token is read from an "Authorization: Bearer" header, or else from the "token"
// field of a JSON body. OPTIONS requests are answered as CORS preflights.
//
// Parameters:
//   - exchanger: The exchange operation, usually a *Bridge.
//   - optFns: A variadic list of functions to customize the HandlerOptions.
//
// Returns:
//   - An http.Handler serving POST and OPTIONS.
func NewHandler(exchanger Exchanger, optFns ...func(o *HandlerOptions)) http.Handler {
	opts := HandlerOptions{
		Logger:       zap.NewNop(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &handler{exchanger: exchanger, opts: opts}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.opts.Logger.Error("recovered from panic during exchange", zap.Any("panic", rec))
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: MsgExchangeFailed, Details: "internal error"})
		}
	}()

	setCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", strings.Join(CORSAllowMethods, ", "))
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: MsgMethodNotAllowed})

		return
	}

	token := h.extractToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   MsgNoToken,
			Details: "Token must be provided in Authorization header or request body",
		})

		return
	}

	result, err := h.exchanger.Exchange(r.Context(), token)
	if err != nil {
		status, body := errorResponse(err)
		h.opts.Logger.Info("exchange failed",
			zap.Int("status", status),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		writeJSON(w, status, body)

		return
	}

	writeJSON(w, http.StatusOK, ExchangeResponse{
		SupabaseJWT: result.Token,
		User:        result.User,
	})
}

// extractToken returns the bearer token, falling back to the JSON body.
func (h *handler) extractToken(r *http.Request) string {
	if fields := strings.Fields(r.Header.Get("Authorization")); len(fields) == 2 && strings.EqualFold(fields[0], "bearer") {
		return fields[1]
	}

	if r.Body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodyBytes))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Token string `json:"token"`
	}

	if err := json.Unmarshal(data, &body); err != nil {
		h.opts.Logger.Debug("ignoring request body that is not a JSON object", zap.Error(err))
		return ""
	}

	return strings.TrimSpace(body.Token)
}

// errorResponse maps an exchange error to a status and body.
func errorResponse(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, ErrNoToken):
		return http.StatusUnauthorized, ErrorResponse{Error: MsgNoToken}
	case errors.Is(err, ErrVerificationFailed):
		return http.StatusUnauthorized, ErrorResponse{Error: MsgVerificationFailed, Details: err.Error()}
	}

	switch KindOf(err) {
	case KindMalformedToken, KindDecodeError, KindInvalidClaims:
		return http.StatusBadRequest, ErrorResponse{Error: MsgInvalidTokenFormat, Details: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: MsgExchangeFailed, Details: err.Error()}
	}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", strings.Join(CORSAllowMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(CORSAllowHeaders, ", "))
	h.Set("Access-Control-Max-Age", "86400")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
