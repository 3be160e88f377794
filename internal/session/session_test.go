package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestUserFromToken(t *testing.T) {
	now := time.Now()
	token, err := IssueToken("secret", "user-42", time.Hour, now)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	user, err := UserFromToken(token, now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if user != "user-42" {
		t.Errorf("Expected user 'user-42', got %s", user)
	}

	user, err = UserFromToken("Bearer "+token, now)
	if err != nil || user != "user-42" {
		t.Errorf("Expected Bearer prefix to be accepted, got %q, %v", user, err)
	}
}

func TestUserFromToken_SubjectFallback(t *testing.T) {
	claims := jwt.MapClaims{"sub": "user-7"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	user, err := UserFromToken(token, time.Now())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if user != "user-7" {
		t.Errorf("Expected user 'user-7', got %s", user)
	}
}

func TestUserFromToken_Expired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	token, _ := IssueToken("secret", "user-42", time.Hour, issued)

	_, err := UserFromToken(token, time.Now())
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestUserFromToken_Invalid(t *testing.T) {
	if _, err := UserFromToken("", time.Now()); !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser for empty token, got %v", err)
	}
	if _, err := UserFromToken("not-a-jwt", time.Now()); err == nil {
		t.Error("Expected error for malformed token")
	}
}

func TestResolve(t *testing.T) {
	user, err := Resolve("explicit", "", time.Now())
	if err != nil || user != "explicit" {
		t.Errorf("Expected explicit user, got %q, %v", user, err)
	}

	if _, err := Resolve("", "", time.Now()); !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser, got %v", err)
	}
}

func TestVerifyToken(t *testing.T) {
	token, _ := IssueToken("secret", "user-1", time.Hour, time.Now())

	user, err := VerifyToken("secret", token)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if user != "user-1" {
		t.Errorf("Expected user-1, got %s", user)
	}

	if _, err := VerifyToken("other-secret", token); err == nil {
		t.Error("Expected signature mismatch to fail")
	}
}
