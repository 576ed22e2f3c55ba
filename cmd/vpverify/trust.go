package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/fatih/color"
	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"
)

var (
	trustDir      string
	trustFromJWKS string
	trustIssuer   string
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted issuer keys",
	Long: `Manage the local direct-trust store of issuer public keys.

Keys are stored one per file and may be mapped to an issuer identifier,
so that presentations without a kid hint can still be resolved offline.

Location: --dir, the dir of the first direct_trust source, or
~/.vpverify/trust/ (or $VPVERIFY_TRUST_PATH).`,
}

var trustAddCmd = &cobra.Command{
	Use:   "add [jwk-file]",
	Short: "Add issuer public keys to the trust store",
	Example: `  # Add a JWK file and map it to an issuer
  vpverify trust add issuer.jwk --issuer https://issuer.example.org

  # Add from a JWKS URL
  vpverify trust add --from-jwks https://issuer.example.org/jwks --issuer https://issuer.example.org

  # Add from stdin
  curl -s https://issuer.example.org/jwks | vpverify trust add --from-jwks -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openTrustStore()
		if err != nil {
			return err
		}

		var jwks *jose.JSONWebKeySet
		switch {
		case trustFromJWKS == "-":
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			if jwks, err = trust.ParseKeys(data); err != nil {
				return err
			}
		case trustFromJWKS != "":
			jwks, err = trust.NewDefaultJWKSFetcher().Fetch(context.Background(), trustFromJWKS)
			if err != nil {
				return err
			}
		case len(args) == 1:
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if jwks, err = trust.ParseKeys(data); err != nil {
				return err
			}
		default:
			return fmt.Errorf("provide a JWK file path or use --from-jwks")
		}

		if len(jwks.Keys) == 0 {
			return fmt.Errorf("JWKS contains no keys")
		}
		if err := store.AddFromJWKS(jwks, trustIssuer); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprintf(w, "✔ Added %d key(s)\n", len(jwks.Keys))
		for _, key := range jwks.Keys {
			fmt.Fprintf(w, "   - %s (%s)\n", key.KeyID, key.Algorithm)
		}
		if trustIssuer != "" {
			fmt.Fprintf(w, "   Mapped to issuer: %s\n", trustIssuer)
		}
		return nil
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted issuer keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openTrustStore()
		if err != nil {
			return err
		}

		keys, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		issuers, err := store.Issuers()
		if err != nil {
			return fmt.Errorf("failed to read issuer mappings: %w", err)
		}

		w := cmd.OutOrStdout()
		if len(keys) == 0 {
			fmt.Fprintln(w, "No trusted keys in store.")
			fmt.Fprintln(w, "\nAdd keys with:")
			fmt.Fprintln(w, "  vpverify trust add issuer.jwk --issuer https://issuer.example.org")
			return nil
		}

		byKid := make(map[string][]string)
		for issuer, kids := range issuers {
			for _, kid := range kids {
				byKid[kid] = append(byKid[kid], issuer)
			}
		}

		label := color.New(color.FgYellow)
		color.New(color.FgCyan, color.Bold).Fprintf(w, "Trusted issuer keys (%d):\n\n", len(keys))
		for _, key := range keys {
			label.Fprint(w, "  Key ID: ")
			fmt.Fprintln(w, key.KeyID)
			fmt.Fprintf(w, "    Algorithm: %s\n", key.Algorithm)
			mapped := byKid[key.KeyID]
			sort.Strings(mapped)
			for _, issuer := range mapped {
				fmt.Fprintf(w, "    Issuer: %s\n", issuer)
			}
			fmt.Fprintln(w)
		}

		color.New(color.Faint).Fprintf(w, "Trust store location: %s\n", store.Dir())
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove [kid]",
	Short: "Remove an issuer key from the trust store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kid := args[0]

		store, err := openTrustStore()
		if err != nil {
			return err
		}

		if err := store.Remove(kid); err != nil {
			if errors.Is(err, trust.ErrKeyNotFound) {
				return fmt.Errorf("key not found: %s", kid)
			}
			return fmt.Errorf("failed to remove key: %w", err)
		}

		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✔ Removed key: %s\n", kid)
		return nil
	},
}

// openTrustStore opens the store named by --dir, falling back to the first
// configured direct_trust source.
func openTrustStore() (*trust.FileStore, error) {
	dir := trustDir
	if dir == "" && cfg != nil {
		for _, s := range cfg.Trust.Sources {
			if s.Type != trust.TypeDirectTrust {
				continue
			}
			if d, ok := s.Config["dir"].(string); ok {
				dir = d
			}
			break
		}
	}

	store, err := trust.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open trust store: %w", err)
	}
	return store, nil
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustRemoveCmd)

	trustCmd.PersistentFlags().StringVar(&trustDir, "dir", "", "Trust store directory")
	trustAddCmd.Flags().StringVar(&trustFromJWKS, "from-jwks", "", "Fetch from JWKS URL or '-' for stdin")
	trustAddCmd.Flags().StringVar(&trustIssuer, "issuer", "", "Issuer identifier to map the keys to")
}
