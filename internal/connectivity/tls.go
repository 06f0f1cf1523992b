package connectivity

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// newTLSConfig builds the TLS client configuration from a PEM trust store.
func newTLSConfig(trustStorePath string) (*tls.Config, error) {
	pem, err := os.ReadFile(trustStorePath)
	if err != nil {
		return nil, fmt.Errorf("read trust store: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("trust store %s holds no usable certificates", trustStorePath)
	}
	return &tls.Config{RootCAs: pool}, nil
}
