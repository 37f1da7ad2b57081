package store

import (
	"testing"
	"time"
)

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s, err := NewJWTSessionStore("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	accountID, ok, err := s.GetAccountIDByToken(token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if !ok || accountID != "acct-1" {
		t.Fatalf("unexpected resolution: %q ok=%v", accountID, ok)
	}
}

func TestJWTSessionStoreRejectsForeignSignature(t *testing.T) {
	a, err := NewJWTSessionStore("secret-a", time.Minute)
	if err != nil {
		t.Fatalf("new store a: %v", err)
	}
	b, err := NewJWTSessionStore("secret-b", time.Minute)
	if err != nil {
		t.Fatalf("new store b: %v", err)
	}
	token, err := a.NewSession("acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := b.GetAccountIDByToken(token); ok {
		t.Fatalf("expected foreign-signed token to be rejected")
	}
}

func TestJWTSessionStoreRejectsGarbage(t *testing.T) {
	s, err := NewJWTSessionStore("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, ok, _ := s.GetAccountIDByToken("not.a.jwt"); ok {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestNewJWTSessionStoreRequiresSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("  ", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
