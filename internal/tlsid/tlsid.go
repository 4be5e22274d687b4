// Package tlsid decodes a PKCS#12 server identity for HTTPS-CONNECT mode,
// bridging a PKCS#12 decoder to the stdlib crypto/tls.Certificate the HTTPS
// listener needs.
package tlsid

import (
	"crypto/tls"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// LoadIdentity reads and decrypts the PKCS#12 file at path with password,
// returning a tls.Certificate suitable for tls.Config.Certificates.
func LoadIdentity(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: read %s: %w", path, err)
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsid: decode %s: %w", path, err)
	}

	chain := make([][]byte, 0, 1+len(caCerts))
	chain = append(chain, cert.Raw)
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// ServerTLSConfig builds a minimal server-side tls.Config around a single
// decoded identity. The proxy terminates TLS purely to then resume CONNECT
// framing over the encrypted channel; no client auth is required.
func ServerTLSConfig(identity tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{identity},
		MinVersion:   tls.VersionTLS12,
	}
}
