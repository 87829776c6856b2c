package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/dbranscombe/kafka-net/certstore"
	"github.com/dbranscombe/kafka-net/logger"
)

// dialer opens the raw connection and, when configured, wraps it in TLS. The
// client certificate is resolved once, at construction, so configuration
// errors surface before the first connect attempt.
type dialer struct {
	endpoint   Endpoint
	opts       Options
	clientCert *tls.Certificate
	policy     *certstore.TrustPolicy
}

func newDialer(endpoint Endpoint, opts Options, log *logger.Logger) (*dialer, error) {
	d := &dialer{endpoint: endpoint, opts: opts}
	if opts.TLS == nil {
		return d, nil
	}

	t := opts.TLS
	d.policy = &certstore.TrustPolicy{
		ServerName:      endpoint.Host,
		AllowSelfSigned: t.AllowSelfSignedServerCert,
		TrainMode:       t.SelfSignedTrainMode,
		Peers:           t.TrustedPeers,
		Log:             log,
	}
	if t.ClientCertRef != "" {
		cert, err := certstore.NewResolver(t.Certs).Resolve(t.ClientCertRef, t.FriendlyName, t.Password)
		if err != nil {
			return nil, err
		}
		d.clientCert = &cert
	}
	return d, nil
}

// dial opens the connection. Every failure, TCP or handshake, comes back as a
// plain error for the reconnect loop to wrap and absorb.
func (d *dialer) dial(ctx context.Context) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.opts.DialTimeout}
	raw, err := nd.DialContext(ctx, "tcp", d.endpoint.Addr.String())
	if err != nil {
		return nil, err
	}
	if d.opts.TLS == nil {
		return raw, nil
	}

	cfg := &tls.Config{
		ServerName: d.endpoint.Host,
		MinVersion: tls.VersionTLS12,
		// Validation is delegated entirely to the trust policy.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: d.policy.VerifyPeerCertificate,
	}
	if d.clientCert != nil {
		cfg.Certificates = []tls.Certificate{*d.clientCert}
	}

	tc := tls.Client(raw, cfg)
	hctx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		raw.Close()
		return nil, err
	}
	return tc, nil
}
