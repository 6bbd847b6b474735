package account

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// Verifier decides whether a presented certificate chain is acceptable.
// Rejection fails the connection attempt with a certificate error; there is
// no transparent downgrade.
type Verifier interface {
	Verify(chain []*x509.Certificate) error
}

// systemVerifier validates against the system trust roots.
type systemVerifier struct {
	serverName string
}

// SystemVerifier returns a Verifier backed by the host's root CA set.
func SystemVerifier(serverName string) Verifier {
	return &systemVerifier{serverName: serverName}
}

func (v *systemVerifier) Verify(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return errors.New("empty certificate chain")
	}
	opts := x509.VerifyOptions{
		DNSName:       v.serverName,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range chain[1:] {
		opts.Intermediates.AddCert(c)
	}
	if _, err := chain[0].Verify(opts); err != nil {
		return err
	}
	return nil
}

// AcceptAllVerifier trusts any chain.  It exists for explicit user override
// after a certificate error and for tests; it is never a default.
type AcceptAllVerifier struct{}

// Verify accepts every chain.
func (AcceptAllVerifier) Verify([]*x509.Certificate) error { return nil }

// verifierTLSConfig routes chain validation through v.  Standard validation
// is disabled so the verifier alone decides; its rejection surfaces as a
// classified certificate error.
func verifierTLSConfig(serverName string, v Verifier) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			chain := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return newError(ErrCertificate, "parse peer certificate", err)
				}
				chain = append(chain, cert)
			}
			if err := v.Verify(chain); err != nil {
				return newError(ErrCertificate, "verify peer certificate",
					fmt.Errorf("verifier rejected chain: %w", err))
			}
			return nil
		},
	}
}
