package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokens_IssueAndParse(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue("user-1", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ID != "user-1" || claims.Role != "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokens_Rejections(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	raw, _ := tokens.Issue("user-1", RoleAdmin)

	if _, err := NewTokens("other", time.Hour).Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	later := NewTokens("secret", time.Hour)
	later.nowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := later.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "user-1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := tokens.Parse(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !h.Matches(hash, "correct horse") || h.Matches(hash, "wrong") {
		t.Fatalf("hash comparison broken")
	}
}
