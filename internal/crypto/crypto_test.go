package crypto

import (
	"strings"
	"testing"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	stored, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !CheckPassword("correct horse", stored) {
		t.Error("CheckPassword() with right password = false, want true")
	}
	if CheckPassword("wrong horse", stored) {
		t.Error("CheckPassword() with wrong password = true, want false")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	a, err := HashPassword("p")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	b, err := HashPassword("p")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical, want different salts")
	}
}

func TestHashPasswordFormat(t *testing.T) {
	stored, err := HashPassword("p")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		t.Fatalf("hash has %d parts, want 3: %q", len(parts), stored)
	}
	if parts[0] != "pbkdf2-sha512" {
		t.Errorf("algorithm = %q, want pbkdf2-sha512", parts[0])
	}
}

func TestCheckPasswordMalformed(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"empty", ""},
		{"no separators", "pbkdf2-sha512"},
		{"wrong algorithm", "md5:aGFzaA==:c2FsdA=="},
		{"bad base64 hash", "pbkdf2-sha512:!!!:c2FsdA=="},
		{"bad base64 salt", "pbkdf2-sha512:aGFzaA==:!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CheckPassword("p", tt.stored) {
				t.Errorf("CheckPassword(%q) = true, want false", tt.stored)
			}
		})
	}
}

func TestRandomCodeLengthAndDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := RandomCode(6)
		if err != nil {
			t.Fatalf("RandomCode() error = %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("RandomCode() length = %d, want 6: %q", len(code), code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("RandomCode() contains non-digit: %q", code)
			}
		}
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken()
	if err != nil {
		t.Fatalf("RandomToken() error = %v", err)
	}
	if len(a) < 64 {
		t.Errorf("RandomToken() length = %d, want >= 64", len(a))
	}
	b, err := RandomToken()
	if err != nil {
		t.Fatalf("RandomToken() error = %v", err)
	}
	if a == b {
		t.Error("two tokens are identical")
	}
}

func TestHumanCodeAlphabet(t *testing.T) {
	code, err := HumanCode(10)
	if err != nil {
		t.Fatalf("HumanCode() error = %v", err)
	}
	if len(code) != 10 {
		t.Fatalf("HumanCode() length = %d, want 10", len(code))
	}
	for _, r := range code {
		if !strings.ContainsRune(humanAlphabet, r) {
			t.Errorf("HumanCode() contains %q, not in alphabet", r)
		}
	}
	for _, forbidden := range "0O1lIv" {
		if strings.ContainsRune(humanAlphabet, forbidden) {
			t.Errorf("alphabet contains ambiguous glyph %q", forbidden)
		}
	}
}
