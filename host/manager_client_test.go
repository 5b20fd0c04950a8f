package host

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hostlink/hostlink/control"
)

func testSecret(t *testing.T) []byte {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}
	return secret
}

func TestSendRequestSignsControlToken(t *testing.T) {
	secret := testSecret(t)

	var verifyErr error
	var sawHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		sawHeader = strings.HasPrefix(header, "Bearer ")
		verifyErr = control.Verify(secret, strings.TrimPrefix(header, "Bearer "))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewManagerClient(server.URL, WithControlSecret(secret))
	resp, err := client.SendRequest(context.Background(), "start", RequestParams{Config: "app.host.json"})
	if err != nil {
		t.Fatalf("SendRequest returned error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("expected OK response, got %d", resp.StatusCode)
	}
	if !sawHeader {
		t.Error("request carried no bearer token")
	}
	if verifyErr != nil {
		t.Errorf("token failed verification: %v", verifyErr)
	}
}

func TestSendRequestWithoutSecretSendsNoToken(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewManagerClient(server.URL)
	if _, err := client.SendRequest(context.Background(), "stop", RequestParams{Config: "app.host.json"}); err != nil {
		t.Fatalf("SendRequest returned error: %v", err)
	}
	if header != "" {
		t.Errorf("unexpected Authorization header %q", header)
	}
}

func TestSendRequestReturnsNonSuccessWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such config", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewManagerClient(server.URL)
	resp, err := client.SendRequest(context.Background(), "start", RequestParams{Config: "missing.host.json"})
	if err != nil {
		t.Fatalf("non-200 status should not be a transport error, got %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), "no such config") {
		t.Errorf("Body = %q, missing diagnostics", resp.Body)
	}
}

func TestSendRequestTransportFailure(t *testing.T) {
	client := NewManagerClient("http://127.0.0.1:1")
	if _, err := client.SendRequest(context.Background(), "start", RequestParams{Config: "app.host.json"}); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestRequestParamsTimeoutOmittedWhenZero(t *testing.T) {
	withTimeout, err := json.Marshal(RequestParams{Config: "a", TimeoutMillis: 1500})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(withTimeout), `"timeout":1500`) {
		t.Errorf("timeout missing from %s", withTimeout)
	}

	withoutTimeout, err := json.Marshal(RequestParams{Config: "a"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(withoutTimeout), "timeout") {
		t.Errorf("zero timeout should be omitted, got %s", withoutTimeout)
	}
}
