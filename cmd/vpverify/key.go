package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"
)

var (
	keyOutPrivate string
	keyOutPublic  string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage Cryptographic Keys",
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a new P-256 Key Pair",
	Long: `Generate a new P-256 (ES256) key pair in JWK format.

The kid is the RFC 7638 thumbprint of the public key. The public JWK can
be added to a trust store with 'vpverify trust add' or passed to
'vpverify verify --key'.`,
	Example: `  # Generate keys with default names
  vpverify key gen

  # Generate keys with custom names
  vpverify key gen --out-priv issuer.key.jwk --out-pub issuer.pub.jwk`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		pubJwk := jose.JSONWebKey{
			Key:       &priv.PublicKey,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		}
		thumb, err := pubJwk.Thumbprint(crypto.SHA256)
		if err != nil {
			return fmt.Errorf("failed to compute thumbprint: %w", err)
		}
		pubJwk.KeyID = base64.RawURLEncoding.EncodeToString(thumb)

		privJwk := pubJwk
		privJwk.Key = priv

		if err := writeJWK(keyOutPrivate, privJwk, 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err := writeJWK(keyOutPublic, pubJwk, 0644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}

		w := cmd.OutOrStdout()
		green := color.New(color.FgGreen)
		green.Fprintf(w, "✔ Private Key saved to %s\n", keyOutPrivate)
		green.Fprintf(w, "✔ Public Key saved to %s\n", keyOutPublic)
		fmt.Fprintf(w, "  kid: %s\n", pubJwk.KeyID)
		return nil
	},
}

func writeJWK(path string, key jose.JSONWebKey, perm os.FileMode) error {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenCmd)

	keyGenCmd.Flags().StringVar(&keyOutPrivate, "out-priv", "private.jwk", "Output path for private key (JWK format)")
	keyGenCmd.Flags().StringVar(&keyOutPublic, "out-pub", "public.jwk", "Output path for public key (JWK format)")
}
