package identity

import (
	"errors"
	"testing"
)

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !CheckPassword("s3cret!", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected password check to fail")
	}
	if CheckPassword("s3cret!", "") {
		t.Fatalf("empty hash must never match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("abc123"); err != nil {
		t.Fatalf("expected six characters to pass, got %v", err)
	}
	if err := ValidatePassword("abc"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected short password to fail, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Worker@Example.COM ")
	if err != nil || got != "worker@example.com" {
		t.Fatalf("NormalizeEmail = %q, %v", got, err)
	}
	for _, bad := range []string{"", "no-at-sign", "a@", "Name <a@b.com>"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("NormalizeEmail(%q) expected ErrInvalidEmail, got %v", bad, err)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"ab@example.com":     "a***@example.com",
		"worker@example.com": "w***r@example.com",
		"not-an-email":       "not-an-email",
	}
	for in, want := range tests {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
