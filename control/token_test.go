package control

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func randomSecret(t *testing.T) []byte {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}
	return secret
}

func TestSignAndVerify(t *testing.T) {
	secret := randomSecret(t)

	token, err := Sign(secret)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if token == "" {
		t.Fatal("Sign returned an empty token")
	}
	if err := Verify(secret, token); err != nil {
		t.Errorf("Verify rejected a freshly signed token: %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Sign(randomSecret(t))
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if err := Verify(randomSecret(t), token); err == nil {
		t.Error("Verify accepted a token signed with a different secret")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	secret := randomSecret(t)
	for _, token := range []string{"", "not-a-token", "aaaa.bbbb.cccc"} {
		if err := Verify(secret, token); err == nil {
			t.Errorf("Verify accepted %q", token)
		}
	}
}

func TestLoadSecretGeneratesAndReuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.key")

	first, err := LoadSecret(path)
	if err != nil {
		t.Fatalf("LoadSecret returned error: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("LoadSecret returned an empty secret")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("secret file not written: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("secret file mode = %o, want 600", mode)
	}

	second, err := LoadSecret(path)
	if err != nil {
		t.Fatalf("second LoadSecret returned error: %v", err)
	}
	if string(first) != string(second) {
		t.Error("LoadSecret regenerated an existing secret")
	}
}
