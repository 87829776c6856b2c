package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Resolver turns a certificate reference into a usable client certificate.
//
// A reference ending in ".pfx" (case-sensitive, matching the deployment
// convention) is a PKCS#12 file decoded with the supplied password. Any other
// reference is a subject name looked up in the personal store: among entries
// whose subject matches, the one whose friendly name equals friendlyName is
// preferred, otherwise the first match is used.
type Resolver struct {
	store Store
}

// NewResolver builds a Resolver over store. The store may be nil if only
// .pfx references will be resolved.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve loads the client certificate for certRef.
func (r *Resolver) Resolve(certRef, friendlyName, password string) (tls.Certificate, error) {
	if strings.HasSuffix(certRef, ".pfx") {
		return loadPFX(certRef, password)
	}
	return r.lookup(certRef, friendlyName)
}

func loadPFX(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, &LoadError{Ref: path, Err: err}
	}
	key, leaf, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, &LoadError{Ref: path, Err: err}
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range caCerts {
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}
	return cert, nil
}

func (r *Resolver) lookup(subject, friendlyName string) (tls.Certificate, error) {
	if r.store == nil {
		return tls.Certificate{}, fmt.Errorf("certstore: no store configured for subject lookup %q: %w",
			subject, ErrCertificateNotFound)
	}
	ids, err := r.store.Identities()
	if err != nil {
		return tls.Certificate{}, err
	}

	var matches []Identity
	for _, id := range ids {
		if subjectMatches(id.Certificate.Leaf, subject) {
			matches = append(matches, id)
		}
	}
	if len(matches) == 0 {
		return tls.Certificate{}, fmt.Errorf("certstore: subject %q: %w", subject, ErrCertificateNotFound)
	}
	for _, id := range matches {
		if id.FriendlyName == friendlyName {
			return id.Certificate, nil
		}
	}
	return matches[0].Certificate, nil
}

func subjectMatches(leaf *x509.Certificate, subject string) bool {
	if leaf == nil {
		return false
	}
	return leaf.Subject.CommonName == subject || leaf.Subject.String() == subject
}
