// Package client calls a running bridge to exchange an upstream token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/lightninginspiration/supabridge"
)

// ErrEmptyToken is returned for a blank upstream token; no request is sent.
var ErrEmptyToken = errors.New("upstream token is empty")

// TokenPlacement selects where the upstream token is sent.
type TokenPlacement string

const (
	// PlacementHeader sends "Authorization: Bearer <token>".
	PlacementHeader TokenPlacement = "header"

	// PlacementBody sends {"token": "<token>"}.
	PlacementBody TokenPlacement = "body"
)

// APIError is a non-2xx response from the bridge.
type APIError struct {
	StatusCode int
	Response   supabridge.ErrorResponse
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("exchange failed with status %d", e.StatusCode)
	if e.Response.Error != "" {
		msg += ": " + e.Response.Error
	}

	if e.Response.Details != "" {
		msg += " (" + e.Response.Details + ")"
	}

	return msg
}

// Options defines the configuration options for a Client.
type Options struct {
	// HTTPClient sends requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Placement selects where the token is sent. Defaults to PlacementHeader.
	Placement TokenPlacement

	// APIKey, if set, is sent in the apikey header expected by edge function gateways.
	APIKey string
}

// Client exchanges upstream tokens against a bridge endpoint.
type Client struct {
	endpoint string
	opts     Options
}

// New creates a Client for the exchange endpoint URL.
func New(endpoint string, optFns ...func(o *Options)) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid exchange endpoint %q", endpoint)
	}

	opts := Options{
		HTTPClient: http.DefaultClient,
		Placement:  PlacementHeader,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	switch opts.Placement {
	case PlacementHeader, PlacementBody:
	default:
		return nil, fmt.Errorf("unsupported token placement %q", opts.Placement)
	}

	return &Client{endpoint: endpoint, opts: opts}, nil
}

// Exchange sends token to the bridge and returns the issued platform token.
//
// Returns:
//   - The decoded response.
//   - ErrEmptyToken, an *APIError for non-2xx responses, or a transport/decoding error.
func (c *Client) Exchange(ctx context.Context, token string) (*supabridge.ExchangeResponse, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}

	httpClient := c.opts.HTTPClient

	var body io.Reader = http.NoBody

	if c.opts.Placement == PlacementHeader {
		bearer := *c.opts.HTTPClient
		bearer.Transport = &oauth2.Transport{
			Base: c.opts.HTTPClient.Transport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: token,
				TokenType:   "Bearer",
			}),
		}
		httpClient = &bearer
	} else {
		data, err := json.Marshal(map[string]string{"token": token})
		if err != nil {
			return nil, err
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.opts.APIKey != "" {
		req.Header.Set("Apikey", c.opts.APIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call exchange endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, supabridge.DefaultMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(data, &apiErr.Response); jerr != nil {
			apiErr.Response.Error = strings.TrimSpace(string(data))
		}

		return nil, apiErr
	}

	var out supabridge.ExchangeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode exchange response: %w", err)
	}

	if out.SupabaseJWT == "" {
		return nil, errors.New("exchange response is missing supabaseJwt")
	}

	return &out, nil
}
