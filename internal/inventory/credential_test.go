package inventory

import (
	"os"
	"strings"
	"testing"
)

func TestCredentialIssuer(t *testing.T) {
	t.Run("IssueAndVerify", func(t *testing.T) {
		issuer := NewCredentialIssuer("secret-a", "lattis-test", t.TempDir())

		path, err := issuer.Issue(42, []int64{1, 2})
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if !strings.HasSuffix(path, ".token") {
			t.Errorf("Expected .token artifact, got %s", path)
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read artifact: %v", err)
		}

		claims, err := issuer.Verify(string(raw))
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if claims.ShelfID != 42 {
			t.Errorf("Expected shelf id 42, got %d", claims.ShelfID)
		}
		if len(claims.UserIDs) != 2 {
			t.Errorf("Expected 2 user ids, got %v", claims.UserIDs)
		}
	})

	t.Run("WrongSecretRejected", func(t *testing.T) {
		dir := t.TempDir()
		issuer := NewCredentialIssuer("secret-a", "lattis-test", dir)
		other := NewCredentialIssuer("secret-b", "lattis-test", dir)

		path, err := issuer.Issue(42, nil)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read artifact: %v", err)
		}

		if _, err := other.Verify(string(raw)); err == nil {
			t.Error("Expected verification with wrong secret to fail")
		}
	})

	t.Run("GarbageRejected", func(t *testing.T) {
		issuer := NewCredentialIssuer("secret-a", "lattis-test", t.TempDir())
		if _, err := issuer.Verify("not-a-token"); err == nil {
			t.Error("Expected garbage token to fail verification")
		}
	})
}
