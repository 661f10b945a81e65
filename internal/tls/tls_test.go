package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert("mx.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "mx.example.com" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "mx.example.com")
	}
	if !slices.Equal(leaf.DNSNames, []string{"mx.example.com", "localhost"}) {
		t.Errorf("DNS SANs: got %v", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || leaf.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("IP SANs: got %v", leaf.IPAddresses)
	}

	validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
	if validDuration < certValidity || validDuration > certValidity+time.Hour {
		t.Errorf("validity duration: got %v, want approximately %v", validDuration, certValidity)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
	if err := leaf.CheckSignatureFrom(leaf); err != nil {
		t.Errorf("certificate is not self-signed: %v", err)
	}
}

func TestGenerateSelfSignedCert_DefaultHostname(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	if leaf.Subject.CommonName != "localhost" || !slices.Equal(leaf.DNSNames, []string{"localhost"}) {
		t.Errorf("got CN %q, SANs %v", leaf.Subject.CommonName, leaf.DNSNames)
	}
}

func TestLoad_SelfSigned(t *testing.T) {
	t.Parallel()

	tlsConfig, err := Load(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("Certificates: got %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", tlsConfig.MinVersion, standardtls.VersionTLS12)
	}
}

func TestLoad_FromFiles(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM, err := GenerateSelfSignedPEM("files.example.com")
	if err != nil {
		t.Fatalf("generating PEM: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	tlsConfig, err := Load(Config{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf, err := x509.ParseCertificate(tlsConfig.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	if leaf.Subject.CommonName != "files.example.com" {
		t.Errorf("CN: got %q", leaf.Subject.CommonName)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load(Config{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}); err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
	if _, err := Load(Config{CertFile: "cert.pem"}); !errors.Is(err, ErrPartialKeyPair) {
		t.Errorf("cert without key: got %v, want ErrPartialKeyPair", err)
	}
}
