package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "supabridge",
		Short: "Exchange Outseta identity tokens for Supabase tokens",
		Long: `supabridge verifies identity tokens issued by Outseta against the issuer's key set
and issues HS256 tokens accepted by a Supabase project.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newExchangeCmd())

	return root
}
