package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/capiscio/vp-verifier/internal/config"
	"github.com/capiscio/vp-verifier/internal/metrics"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vp"
	"github.com/fatih/color"
	"github.com/go-jose/go-jose/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var (
	verifyAudience    string
	verifyNonce       string
	verifyKeyFiles    []string
	verifyJSON        bool
	verifyShowMetrics bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [presentation | file | -]",
	Short: "Verify SD-JWT VC presentations with key binding",
	Long: `Verify one or more SD-JWT VC presentations against a challenge.

The input is a presentation string, a file containing presentations, or
'-' for stdin. Each non-empty line is one presentation; all of them must
verify against the same audience and nonce.

Issuer keys are resolved from --key files first and then from the trust
sources configured under trust.sources. trust_chain key hints are accepted
only when they chain up to an anchor configured under trust.anchors.`,
	Example: `  # Verify a presentation read from a file
  vpverify verify vp_token.txt --nonce n-123 --aud https://rp.example/cb

  # Verify with a pinned issuer key and print JSON
  vpverify verify - --nonce n-123 --key issuer.jwk --json < vp_token.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := "-"
		if len(args) == 1 {
			input = args[0]
		}
		presentations, err := readPresentations(input, cmd.InOrStdin())
		if err != nil {
			return err
		}

		audience := cfg.Verifier.Audience
		if verifyAudience != "" {
			audience = verifyAudience
		}
		challenge := vp.Challenge{Audience: audience, Nonce: verifyNonce}

		reg := prometheus.NewRegistry()
		verifier, err := newVerifier(cfg, verifyKeyFiles, reg)
		if err != nil {
			return err
		}

		results, err := verifier.VerifyAll(context.Background(), presentations, challenge)
		if verifyShowMetrics {
			if mErr := writeMetrics(cmd.ErrOrStderr(), reg); mErr != nil {
				return mErr
			}
		}
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), verifier, results)
	},
}

// newVerifier builds a verifier from configuration plus pinned key files.
func newVerifier(cfg *config.Config, keyFiles []string, reg prometheus.Registerer) (*vp.Verifier, error) {
	algs, err := cfg.Verifier.SignatureAlgorithms()
	if err != nil {
		return nil, err
	}
	evaluator, err := trust.NewRegistry().Build(cfg.Trust.Sources)
	if err != nil {
		return nil, err
	}

	opts := []vp.Option{
		vp.WithTrust(evaluator),
		vp.WithAlgorithms(algs...),
		vp.WithClockSkew(cfg.Verifier.ClockSkew),
		vp.WithRequireSDHash(cfg.Verifier.RequireSDHash),
		vp.WithAcceptedClaims(cfg.Verifier.AcceptedClaims),
		vp.WithRecorder(metrics.New(reg)),
	}

	if len(keyFiles) > 0 {
		set, err := loadKeyFiles(keyFiles)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vp.WithKeyStore(trust.NewKeySet(set)))
	}

	if roots := cfg.Trust.X5CRoots; roots != "" {
		var certs *trust.CertChainValidator
		if strings.HasPrefix(strings.TrimSpace(roots), "-----BEGIN") {
			certs, err = trust.NewCertChainValidator([]byte(roots))
		} else {
			certs, err = trust.LoadCertChainValidator(roots)
		}
		if err != nil {
			return nil, err
		}
		opts = append(opts, vp.WithCertChainValidator(certs))
	}

	if len(cfg.Trust.Anchors) > 0 {
		anchors := make(map[string]*jose.JSONWebKeySet, len(cfg.Trust.Anchors))
		for _, a := range cfg.Trust.Anchors {
			set, err := loadKeyFiles([]string{a.JWKSFile})
			if err != nil {
				return nil, err
			}
			anchors[a.EntityID] = set
		}
		federation, err := trust.NewFederationValidator(anchors)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vp.WithTrustAnchors(federation))
	}

	return vp.NewVerifier(opts...), nil
}

func loadKeyFiles(paths []string) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		keys, err := trust.ParseKeys(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		set.Keys = append(set.Keys, keys.Keys...)
	}
	return &set, nil
}

// readPresentations reads one presentation per non-empty line. An input that
// is neither "-" nor an existing file is taken as the presentation itself.
func readPresentations(input string, stdin io.Reader) ([]string, error) {
	var r io.Reader
	switch {
	case input == "-":
		r = stdin
	case fileExists(input):
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("failed to open presentation file: %w", err)
		}
		defer f.Close()
		r = f
	default:
		r = strings.NewReader(input)
	}

	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read presentations: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no presentation given")
	}
	return out, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type verifyOutput struct {
	Results []resultOutput `json:"results"`
	Claims  map[string]any `json:"claims"`
}

type resultOutput struct {
	*vp.Result
	Accepted map[string]any `json:"accepted"`
}

func printResults(w io.Writer, verifier *vp.Verifier, results []*vp.Result) error {
	out := verifyOutput{Claims: map[string]any{}}
	for _, r := range results {
		accepted, err := verifier.AcceptedClaims(r)
		if err != nil {
			return err
		}
		out.Results = append(out.Results, resultOutput{Result: r, Accepted: accepted})
		for k, v := range accepted {
			out.Claims[k] = v
		}
	}

	if verifyJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	green := color.New(color.FgGreen, color.Bold)
	label := color.New(color.FgYellow)
	dim := color.New(color.Faint)

	for _, r := range out.Results {
		green.Fprintf(w, "✔ Verified credential from %s\n", r.Issuer)
		dim.Fprintf(w, "  id: %s  at: %s\n", r.ID, r.VerifiedAt.Format("2006-01-02T15:04:05Z07:00"))
		if len(r.Disclosures) > 0 {
			dim.Fprintf(w, "  disclosed: %s\n", strings.Join(r.Disclosures, ", "))
		}
	}

	names := make([]string, 0, len(out.Claims))
	for k := range out.Claims {
		names = append(names, k)
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	if len(names) == 0 {
		dim.Fprintln(w, "No accepted claims.")
		return nil
	}
	for _, k := range names {
		label.Fprintf(w, "  %s: ", k)
		fmt.Fprintf(w, "%v\n", out.Claims[k])
	}
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyAudience, "aud", "", "Expected key binding audience (overrides verifier.audience)")
	verifyCmd.Flags().StringVar(&verifyNonce, "nonce", "", "Nonce sent in the authorization request")
	verifyCmd.Flags().StringSliceVar(&verifyKeyFiles, "key", nil, "Pinned issuer JWK or JWKS file (repeatable)")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print results as JSON")
	verifyCmd.Flags().BoolVar(&verifyShowMetrics, "metrics", false, "Write verification metrics to stderr")
	_ = verifyCmd.MarkFlagRequired("nonce")
}
