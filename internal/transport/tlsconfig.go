// File: internal/transport/tlsconfig.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS configuration derived from the cert/ca parts of an ssl:// address.

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/momentics/hioload-net/api"
)

// HandshakeTimeout bounds dial plus handshake of a bridged TLS session.
var HandshakeTimeout = 10 * time.Second

// loadKeyPair reads a PEM file holding both the certificate chain and the
// private key.
func loadKeyPair(path string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(data, data)
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := x509.NewCertPool()
	if !p.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%s: no certificates found", path)
	}
	return p, nil
}

// ServerTLSConfig builds the config for an ssl:// listener. A CA path turns
// on mandatory client certificate verification.
func ServerTLSConfig(a *Address) (*tls.Config, error) {
	if a.CertPath == "" {
		return nil, api.NewError(api.ErrCodeBind, "ssl listener needs a certificate").WithContext("addr", a.String())
	}
	cert, err := loadKeyPair(a.CertPath)
	if err != nil {
		return nil, api.NewError(api.ErrCodeBind, "load certificate").Wrap(err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if a.CAPath != "" {
		pool, err := loadCertPool(a.CAPath)
		if err != nil {
			return nil, api.NewError(api.ErrCodeBind, "load ca").Wrap(err)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientTLSConfig builds the config for an outbound ssl:// connection. The
// server certificate is verified only when a CA path is given.
func ClientTLSConfig(a *Address) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: a.Host,
		MinVersion: tls.VersionTLS12,
	}
	if a.CertPath != "" {
		cert, err := loadKeyPair(a.CertPath)
		if err != nil {
			return nil, api.NewError(api.ErrCodeConnect, "load client certificate").Wrap(err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if a.CAPath != "" {
		pool, err := loadCertPool(a.CAPath)
		if err != nil {
			return nil, api.NewError(api.ErrCodeConnect, "load ca").Wrap(err)
		}
		cfg.RootCAs = pool
	} else {
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}
