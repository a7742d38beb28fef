package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// Token is a 128-bit random identifier used for session tokens, pre-auth
// tokens, and remember-me series IDs.
type Token [16]byte

const secretSize = 32

func NewToken() (Token, error) {
	var t Token
	_, err := rand.Read(t[:])
	return t, err
}

func (t Token) Bytes() []byte {
	return t[:]
}

func (t Token) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(t[:])
}

func ParseToken(s string) (Token, error) {
	var t Token

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, err
	}
	if len(raw) != len(t) {
		return t, errors.New("invalid token size")
	}

	copy(t[:], raw)
	return t, nil
}

// NewSecret returns a 256-bit random secret. Only its hash is ever
// persisted server-side.
func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func EncodeSecret(secret [secretSize]byte) string {
	return base64.RawURLEncoding.EncodeToString(secret[:])
}

func DecodeSecret(s string) ([secretSize]byte, error) {
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return secret, err
	}
	if len(raw) != secretSize {
		return secret, errors.New("invalid secret size")
	}

	copy(secret[:], raw)
	return secret, nil
}
