package classifiertest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// PKI is a throwaway certificate authority with one server and one client
// certificate, laid out on disk like a Puppet ssldir.
type PKI struct {
	Dir        string
	CACert     string
	ClientCert string
	ClientKey  string
	Certname   string

	caPool     *x509.CertPool
	serverCert tls.Certificate
}

type keyPair struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	der  []byte
}

// NewPKI creates the CA, a server certificate for localhost/127.0.0.1 and a
// client certificate for certname, and writes the client side files to a
// temporary directory.
func NewPKI(t testing.TB, certname string) *PKI {
	t.Helper()

	ca := newKeyPair(t, &x509.Certificate{
		Subject:               pkix.Name{CommonName: "Puppet CA: test"},
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}, nil)
	server := newKeyPair(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "localhost"},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, ca)
	client := newKeyPair(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: certname},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, ca)

	dir := t.TempDir()
	p := &PKI{
		Dir:        dir,
		CACert:     filepath.Join(dir, "certs", "ca.pem"),
		ClientCert: filepath.Join(dir, "certs", certname+".pem"),
		ClientKey:  filepath.Join(dir, "private_keys", certname+".pem"),
		Certname:   certname,
		caPool:     x509.NewCertPool(),
	}
	p.caPool.AddCert(ca.cert)
	p.serverCert = tls.Certificate{
		Certificate: [][]byte{server.der, ca.der},
		PrivateKey:  server.key,
		Leaf:        server.cert,
	}

	writePEM(t, p.CACert, "CERTIFICATE", ca.der)
	writePEM(t, p.ClientCert, "CERTIFICATE", client.der)
	keyDER, err := x509.MarshalPKCS8PrivateKey(client.key)
	if err != nil {
		t.Fatalf("unable to encode client key: %v", err)
	}
	writePEM(t, p.ClientKey, "PRIVATE KEY", keyDER)
	return p
}

// ServerTLS returns the server side TLS configuration. Client certificates
// signed by the CA are verified when presented.
func (p *PKI) ServerTLS() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{p.serverCert},
		ClientCAs:    p.caPool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
		MinVersion:   tls.VersionTLS12,
	}
}

func newKeyPair(t testing.TB, template *x509.Certificate, issuer *keyPair) *keyPair {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("unable to generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("unable to generate serial: %v", err)
	}
	template.SerialNumber = serial
	template.NotBefore = time.Now().Add(-time.Hour)
	template.NotAfter = time.Now().Add(24 * time.Hour)

	parent, signer := template, key
	if issuer != nil {
		parent, signer = issuer.cert, issuer.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("unable to create certificate %q: %v", template.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("unable to parse certificate %q: %v", template.Subject.CommonName, err)
	}
	return &keyPair{cert: cert, key: key, der: der}
}

func writePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("unable to create %s: %v", filepath.Dir(path), err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("unable to write %s: %v", path, err)
	}
}
