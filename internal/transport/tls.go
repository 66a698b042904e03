package transport

import (
	"crypto/tls"
	"fmt"
)

// LoadTLSConfig builds a server-side tls.Config from a PEM certificate chain
// and private key file pair. Mirrors the original source's TlsConfig::from_pem
// contract (cert+key in, ready-to-use acceptor config out); Go's standard
// library is the ecosystem-idiomatic way to do this, matching how every
// other TLS-serving repo in the pack reaches for crypto/tls directly rather
// than a third-party TLS stack.
func LoadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
