package main

import (
	"encoding/json"
	"fmt"

	"github.com/capiscio/vp-verifier/pkg/vp"
	"github.com/spf13/cobra"
)

var (
	challengeAudience string
	challengeJSON     bool
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Generate a fresh verifier challenge",
	Long: `Generate a random nonce for an authorization request.

The nonce must be sent to the wallet and passed to 'vpverify verify --nonce'
when the response arrives. Use each challenge once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		audience := cfg.Verifier.Audience
		if challengeAudience != "" {
			audience = challengeAudience
		}
		c, err := vp.NewChallenge(audience)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if challengeJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(c)
		}
		fmt.Fprintln(w, c.Nonce)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(challengeCmd)

	challengeCmd.Flags().StringVar(&challengeAudience, "aud", "", "Audience (overrides verifier.audience)")
	challengeCmd.Flags().BoolVar(&challengeJSON, "json", false, "Print audience and nonce as JSON")
}
