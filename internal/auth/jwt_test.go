// README: Tests for HS256 token generation and verification.
package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewManager("test-secret")
	raw, err := m.Generate("driver123", RoleDriver, time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tok, err := m.VerifyToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if tok.UserID != "driver123" {
		t.Errorf("UserID = %q, want driver123", tok.UserID)
	}
	if tok.Role != RoleDriver {
		t.Errorf("Role = %q, want %q", tok.Role, RoleDriver)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	raw, err := NewManager("secret-a").Generate("u1", RolePassenger, time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := NewManager("secret-b").VerifyToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	m := NewManager("test-secret")
	raw, err := m.Generate("u1", RolePassenger, -time.Minute)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := m.VerifyToken(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	m := NewManager("test-secret")
	if _, err := m.VerifyToken(context.Background(), "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
