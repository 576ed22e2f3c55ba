package trust

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// CertChainValidator checks x5c chains against a fixed set of roots.
type CertChainValidator struct {
	roots *x509.CertPool
	count int
}

// NewCertChainValidator creates a validator from PEM encoded root certificates.
func NewCertChainValidator(pemBundle []byte) (*CertChainValidator, error) {
	pool := x509.NewCertPool()
	count := 0
	for rest := pemBundle; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, vperr.WrapError(vperr.ErrCodeConfig, "parsing root certificate", err)
		}
		pool.AddCert(cert)
		count++
	}
	if count == 0 {
		return nil, vperr.NewError(vperr.ErrCodeConfig, "no root certificates in PEM bundle")
	}
	return &CertChainValidator{roots: pool, count: count}, nil
}

// LoadCertChainValidator reads a PEM bundle from disk.
func LoadCertChainValidator(path string) (*CertChainValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeConfig, fmt.Sprintf("reading x5c roots %s", path), err)
	}
	return NewCertChainValidator(data)
}

// Roots returns the number of configured root certificates.
func (v *CertChainValidator) Roots() int {
	return v.count
}

// Validate verifies that the chain's leaf chains up to a configured root at
// the given time and that the leaf names issuer, either as a URI SAN equal to
// issuer or as a DNS SAN equal to its host.
func (v *CertChainValidator) Validate(hint ByCertChain, issuer string, at time.Time) error {
	if len(hint.Chain) == 0 {
		return vperr.NewError(vperr.ErrCodeKeyNotFound, "empty x5c chain")
	}

	intermediates := x509.NewCertPool()
	for _, c := range hint.Chain[1:] {
		intermediates.AddCert(c)
	}

	_, err := hint.Chain[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return vperr.WrapError(vperr.ErrCodeKeyNotFound, "x5c certificate chain not trusted", err)
	}
	if !certificateNames(hint.Chain[0], issuer) {
		return vperr.Errorf(vperr.ErrCodeKeyNotFound, "x5c leaf certificate is not issued to %q", issuer)
	}
	return nil
}

func certificateNames(cert *x509.Certificate, issuer string) bool {
	for _, u := range cert.URIs {
		if u.String() == issuer {
			return true
		}
	}
	u, err := url.Parse(issuer)
	if err != nil || u.Hostname() == "" {
		return false
	}
	for _, name := range cert.DNSNames {
		if strings.EqualFold(name, u.Hostname()) {
			return true
		}
	}
	return false
}
