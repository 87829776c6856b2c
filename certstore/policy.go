package certstore

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/dbranscombe/kafka-net/logger"
)

// ErrUntrustedServerCertificate is returned when the server's certificate
// fails both chain validation and the pinning policy.
var ErrUntrustedServerCertificate = errors.New("certstore: untrusted server certificate")

// TrustPolicy decides whether a server certificate is acceptable. It is
// plugged into tls.Config.VerifyPeerCertificate, so it runs once per
// handshake on the raw presented chain.
//
// Decision order:
//  1. a chain that validates against Roots (system roots when nil) for
//     ServerName is accepted;
//  2. otherwise, if self-signed servers are not allowed, reject;
//  3. otherwise, a certificate pinned in Peers is accepted;
//  4. otherwise, in train mode the certificate is pinned and accepted
//     (trust-on-first-use bootstrap);
//  5. otherwise, reject.
type TrustPolicy struct {
	ServerName      string
	AllowSelfSigned bool
	TrainMode       bool
	Peers           TrustedPeers

	// Roots overrides the system root pool. Tests use this.
	Roots *x509.CertPool

	Log *logger.Logger
}

// VerifyPeerCertificate implements the tls.Config callback signature.
// verifiedChains is always nil because the transport dials with
// InsecureSkipVerify and delegates all validation here.
func (p *TrustPolicy) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: server presented no certificate", ErrUntrustedServerCertificate)
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("certstore: parse server certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]

	chainErr := p.verifyChain(certs)
	if chainErr == nil {
		return nil
	}
	if !p.AllowSelfSigned {
		return fmt.Errorf("%w: %v", ErrUntrustedServerCertificate, chainErr)
	}

	tp := Thumbprint(leaf)
	pinned, err := p.Peers.Contains(tp)
	if err != nil {
		return fmt.Errorf("certstore: peer store lookup: %w", err)
	}
	if pinned {
		return nil
	}

	if p.TrainMode {
		if err := p.Peers.Add(leaf); err != nil {
			return fmt.Errorf("certstore: train-mode pin: %w", err)
		}
		if p.Log != nil {
			p.Log.Sugar().Infow("trust policy: pinned server certificate",
				"thumbprint", tp, "subject", leaf.Subject.String())
		}
		return nil
	}

	return fmt.Errorf("%w: thumbprint %s not pinned", ErrUntrustedServerCertificate, tp)
}

func (p *TrustPolicy) verifyChain(certs []*x509.Certificate) error {
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		DNSName:       p.ServerName,
		Roots:         p.Roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	return err
}
