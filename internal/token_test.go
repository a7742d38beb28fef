package internal

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	s := tok.String()
	if len(s) != 22 {
		t.Fatalf("expected 22-char encoding, got %d (%q)", len(s), s)
	}

	parsed, err := ParseToken(s)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if parsed != tok {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, tok)
	}
}

func TestParseTokenRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "not base64!!", "c2hvcnQ", "dG9vIGxvbmcgdG9vIGxvbmcgdG9vIGxvbmc"} {
		if _, err := ParseToken(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestSecretRoundTrip(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}

	decoded, err := DecodeSecret(EncodeSecret(secret))
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if decoded != secret {
		t.Fatal("round trip mismatch")
	}

	if HashSecret(secret) != HashSecret(decoded) {
		t.Fatal("hash not deterministic")
	}

	var other [32]byte
	copy(other[:], secret[:])
	other[0] ^= 0xFF
	if HashSecret(secret) == HashSecret(other) {
		t.Fatal("distinct secrets produced the same digest")
	}
}
