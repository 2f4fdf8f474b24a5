// Copyright 2021 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pilosa/wikicounts"
	"github.com/pkg/errors"
)

// TLSConfig contains TLS configuration for connecting to brokers.
type TLSConfig struct {
	// CertificatePath contains the path to the client certificate (.crt or .pem file)
	CertificatePath string
	// CertificateKeyPath contains the path to the client certificate key (.key file)
	CertificateKeyPath string
	// CACertPath is the path to a CA certificate (.crt or .pem file)
	CACertPath string
	// SkipVerify disables verification of broker certificates.
	SkipVerify bool
}

// Enabled reports whether any TLS setting is present.
func (c TLSConfig) Enabled() bool {
	return c.CertificatePath != "" || c.CertificateKeyPath != "" || c.CACertPath != "" || c.SkipVerify
}

type keypairReloader struct {
	certMu   sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

// newKeypairReloader loads a keypair and reloads it whenever the process
// receives SIGHUP, so that rotated certificates are picked up by
// long-lived producers.
func newKeypairReloader(certPath, keyPath string, log wikicounts.Logger) (*keypairReloader, error) {
	result := &keypairReloader{
		certPath: certPath,
		keyPath:  keyPath,
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	result.cert = &cert
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGHUP)
		for range c {
			log.Printf("Received SIGHUP, reloading TLS certificate and key from %q and %q", certPath, keyPath)
			if err := result.maybeReload(); err != nil {
				log.Printf("Keeping old TLS certificate because the new one could not be loaded: %v", err)
			}
		}
	}()
	return result, nil
}

func (kpr *keypairReloader) maybeReload() error {
	newCert, err := tls.LoadX509KeyPair(kpr.certPath, kpr.keyPath)
	if err != nil {
		return err
	}
	kpr.certMu.Lock()
	defer kpr.certMu.Unlock()
	kpr.cert = &newCert
	return nil
}

func (kpr *keypairReloader) GetClientCertificateFunc() func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		kpr.certMu.RLock()
		defer kpr.certMu.RUnlock()
		return kpr.cert, nil
	}
}

// GetTLSConfig builds a client tls.Config from c. It returns nil if c
// enables nothing.
func GetTLSConfig(c TLSConfig, log wikicounts.Logger) (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if log == nil {
		log = wikicounts.NopLogger{}
	}
	config := &tls.Config{
		InsecureSkipVerify: c.SkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if c.CertificatePath != "" || c.CertificateKeyPath != "" {
		kpr, err := newKeypairReloader(c.CertificatePath, c.CertificateKeyPath, log)
		if err != nil {
			return nil, errors.Wrap(err, "loading keypair")
		}
		config.GetClientCertificate = kpr.GetClientCertificateFunc()
	}
	if c.CACertPath != "" {
		b, err := ioutil.ReadFile(c.CACertPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading tls ca key")
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(b); !ok {
			return nil, errors.New("error parsing CA certificate")
		}
		config.RootCAs = certPool
	}
	return config, nil
}
