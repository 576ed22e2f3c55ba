// Package main is the entry point for the vpverify CLI.
package main

import (
	"fmt"
	"os"

	"github.com/capiscio/vp-verifier/internal/config"
	"github.com/capiscio/vp-verifier/internal/log"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configFlags = config.FlagSet()
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vpverify",
	Short: "SD-JWT VC presentation verifier",
	Long: `Verifies SD-JWT VC presentations with key binding, as sent by wallets
in OpenID4VP responses.

Configuration is read from vpverify.yaml, VPVERIFY_ environment variables
and flags, in increasing precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(configFlags)
		if err != nil {
			return err
		}
		if err := log.Configure(loaded.Log.Level, loaded.Log.Format); err != nil {
			return vperr.WrapError(vperr.ErrCodeConfig, "configuring logger", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(configFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "✗ ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
