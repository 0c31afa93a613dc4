package launcher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func writePEMKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	path := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestParseVLABPort_ParsesPortNumber(t *testing.T) {
	port, err := parseVLABPort("VLABPORT:32010\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 32010 {
		t.Fatalf("expected 32010, got %d", port)
	}
}

func TestParseVLABPort_RejectsUnexpectedResponse(t *testing.T) {
	if _, err := parseVLABPort("no boards available\n"); err == nil {
		t.Fatal("expected an error for a non-VLABPORT response")
	}
}

func TestCheckPortFree_AllowsAnUnboundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := checkPortFree(port); err != nil {
		t.Fatalf("expected port %d to be free: %v", port, err)
	}
}

func TestCheckPortFree_RejectsAnInUsePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if err := checkPortFree(port); err == nil {
		t.Fatalf("expected port %d to be reported in use", port)
	}
}

func TestLoadSigner_ParsesUnencryptedKey(t *testing.T) {
	path := writePEMKey(t, mustRSAKey(t))
	signer, err := loadSigner(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signer.PublicKey() == nil {
		t.Fatal("expected a non-nil public key")
	}
}

func TestLoadSigner_MissingFile(t *testing.T) {
	if _, err := loadSigner(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected an error for a missing key file")
	}
}
