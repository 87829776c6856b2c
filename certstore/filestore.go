package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// FileStore (personal store)
// -----------------------------------------------------------------------------

// FileStore reads client identities from a directory. Each identity is a PEM
// certificate <name>.pem with its private key in <name>-key.pem; <name> is
// the entry's friendly name.
type FileStore struct {
	dir string
}

// NewFileStore opens the store rooted at dir. The directory must exist.
func NewFileStore(dir string) (*FileStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("certstore: open store %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("certstore: store path %q is not a directory", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Identities loads every cert/key pair in the store directory. Directories,
// files not ending in ".pem", and "-key.pem" files are skipped; a ".pem"
// file that cannot be loaded with its key fails the whole listing with a
// LoadError.
func (s *FileStore) Identities() ([]Identity, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("certstore: read store %q: %w", s.dir, err)
	}

	var ids []Identity
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pem") || strings.HasSuffix(name, "-key.pem") {
			continue
		}
		base := strings.TrimSuffix(name, ".pem")
		certPath := filepath.Join(s.dir, name)
		keyPath := filepath.Join(s.dir, base+"-key.pem")

		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, &LoadError{Ref: certPath, Err: err}
		}
		if cert.Leaf == nil {
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			if err != nil {
				return nil, &LoadError{Ref: certPath, Err: err}
			}
			cert.Leaf = leaf
		}
		ids = append(ids, Identity{Certificate: cert, FriendlyName: base})
	}
	return ids, nil
}

// -----------------------------------------------------------------------------
// PeerDir (trusted peers store)
// -----------------------------------------------------------------------------

// PeerDir pins server certificates as <THUMBPRINT>.pem files in a directory.
// It is the file-based stand-in for the "Trusted People" store.
type PeerDir struct {
	mu  sync.Mutex
	dir string
}

// NewPeerDir opens (creating if needed) the pin directory.
func NewPeerDir(dir string) (*PeerDir, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certstore: create peer dir %q: %w", dir, err)
	}
	return &PeerDir{dir: dir}, nil
}

// Contains reports whether the thumbprint is pinned.
func (p *PeerDir) Contains(thumbprint string) (bool, error) {
	if !thumbprintValid(thumbprint) {
		return false, fmt.Errorf("certstore: malformed thumbprint %q", thumbprint)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := os.Stat(filepath.Join(p.dir, thumbprint+".pem"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Add pins cert. A second Add of the same certificate leaves the existing pin
// untouched.
func (p *PeerDir) Add(cert *x509.Certificate) error {
	tp := Thumbprint(cert)
	p.mu.Lock()
	defer p.mu.Unlock()

	path := filepath.Join(p.dir, tp+".pem")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(path, block, 0o600); err != nil {
		return fmt.Errorf("certstore: pin %s: %w", tp, err)
	}
	return nil
}
