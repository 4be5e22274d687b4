package tlsid

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIdentity_MissingFile(t *testing.T) {
	_, err := LoadIdentity(filepath.Join(t.TempDir(), "missing.p12"), "whatever")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadIdentity_BadPKCS12Data(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.p12")
	if err := os.WriteFile(path, []byte("not a pkcs12 bundle"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadIdentity(path, "whatever")
	if err == nil {
		t.Fatalf("expected decode error for malformed PKCS#12 data")
	}
}

func TestServerTLSConfig_PinsMinVersionAndCertificate(t *testing.T) {
	identity := tls.Certificate{Certificate: [][]byte{{0x01}}}
	cfg := ServerTLSConfig(identity)

	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("MinVersion=%v want TLS1.2", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("Certificates len=%d want 1", len(cfg.Certificates))
	}
}
