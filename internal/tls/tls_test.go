package tls

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeServerCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServerConfigDisabled(t *testing.T) {
	cfg, err := NewServerTLSConfig(ServerConfig{})
	if err != nil || cfg != nil {
		t.Fatalf("disabled server TLS should return nil, nil; got %v, %v", cfg, err)
	}
}

func TestServerConfigMissingCert(t *testing.T) {
	_, err := NewServerTLSConfig(ServerConfig{Enabled: true, CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"})
	if err == nil {
		t.Fatal("expected error for missing certificate")
	}
}

func TestClientConfigDisabledKeepsMinVersion(t *testing.T) {
	cfg, err := NewClientTLSConfig(ClientConfig{InsecureSkipVerify: true})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.InsecureSkipVerify {
		t.Error("options must be ignored while disabled")
	}
}

func TestClientConfigOptions(t *testing.T) {
	cfg, err := NewClientTLSConfig(ClientConfig{Enabled: true, InsecureSkipVerify: true, ServerName: "trace-api.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.InsecureSkipVerify || cfg.ServerName != "trace-api.example.com" {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestClientConfigMissingCA(t *testing.T) {
	if _, err := NewClientTLSConfig(ClientConfig{Enabled: true, CAFile: "/nonexistent-ca.pem"}); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestClientConfigInvalidCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClientTLSConfig(ClientConfig{Enabled: true, CAFile: path}); err == nil {
		t.Fatal("expected error for unparseable CA file")
	}
}

func TestClientConfigWithCATrustsServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg, err := NewClientTLSConfig(ClientConfig{Enabled: true, CAFile: writeServerCA(t, srv), ServerName: "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request with trusted CA failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
