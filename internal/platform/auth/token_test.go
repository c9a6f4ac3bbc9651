package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	token, err := issuer.Issue(42, RoleDiagnostician)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	id, err := claims.SubjectID()
	if err != nil {
		t.Fatalf("subject id: %v", err)
	}
	if id != 42 {
		t.Errorf("expected subject 42, got %d", id)
	}
	if claims.Role != string(RoleDiagnostician) {
		t.Errorf("expected role diagnostician, got %s", claims.Role)
	}
}

func TestValidate_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), -time.Minute)

	token, err := issuer.Issue(1, RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := issuer.Validate(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestValidate_TamperedSignature(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	token, err := issuer.Issue(1, RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := issuer.Validate(tampered); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), time.Hour)
	other := NewTokenIssuer([]byte("secret-b"), time.Hour)

	token, err := issuer.Issue(1, RoleClinician)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := other.Validate(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken across secrets, got %v", err)
	}
}

func TestValidate_Garbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := issuer.Validate(tok); err != ErrInvalidToken {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestSubjectID_Malformed(t *testing.T) {
	c := &Claims{}
	c.Subject = "not-a-number"
	if _, err := c.SubjectID(); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for malformed subject, got %v", err)
	}
}
