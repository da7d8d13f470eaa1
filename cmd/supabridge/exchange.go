package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightninginspiration/supabridge"
	"github.com/lightninginspiration/supabridge/client"
)

type exchangeOutput struct {
	*supabridge.ExchangeResponse
	Claims supabridge.Claims `json:"claims,omitempty"`
}

func newExchangeCmd() *cobra.Command {
	var (
		endpoint   string
		apiKey     string
		useBody    bool
		showClaims bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exchange [token]",
		Short: "Exchange an upstream token against a running bridge",
		Long: `exchange sends an Outseta token to a bridge endpoint and prints the JSON response.
The token is read from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), supabridge.DefaultMaxBodyBytes))
				if err != nil {
					return fmt.Errorf("failed to read token from stdin: %w", err)
				}

				token = strings.TrimSpace(string(data))
			}

			placement := client.PlacementHeader
			if useBody {
				placement = client.PlacementBody
			}

			c, err := client.New(endpoint, func(o *client.Options) {
				o.Placement = placement
				o.APIKey = apiKey
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel func()
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			resp, err := c.Exchange(ctx, token)
			if err != nil {
				return err
			}

			out := exchangeOutput{ExchangeResponse: resp}
			if showClaims {
				if out.Claims, err = supabridge.ParseUnverified(resp.SupabaseJWT); err != nil {
					return fmt.Errorf("failed to decode issued token: %w", err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&endpoint, "url", "http://localhost:8080/exchange", "exchange endpoint URL")
	cmd.Flags().StringVar(&apiKey, "apikey", "", "value for the apikey header")
	cmd.Flags().BoolVar(&useBody, "body", false, "send the token in the JSON body instead of the Authorization header")
	cmd.Flags().BoolVar(&showClaims, "claims", false, "also print the claims of the issued token")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}
