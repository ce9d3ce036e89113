package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// Token-related errors
var (
	// ErrInvalidTokenFormat is returned when the token format is invalid.
	ErrInvalidTokenFormat = errors.New("invalid token format")
	// ErrUnknownToken is returned when a well-formed token maps to no player.
	ErrUnknownToken = errors.New("unknown token")
)

// DefaultTokenLength is the default length for generated tokens in bytes.
const DefaultTokenLength = 32 // 256 bits

// MaxTokenLength bounds the accepted size of an encoded token.
const MaxTokenLength = 4096

// GenerateToken generates a cryptographically secure random token of the
// specified length in bytes. The returned token is base64 URL-encoded without
// padding so it can travel in a query string unescaped.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		length = DefaultTokenLength
	}

	tokenBytes := make([]byte, length)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

// ValidateToken securely compares two tokens using constant-time comparison
// to prevent timing attacks.
func ValidateToken(token1, token2 string) bool {
	return subtle.ConstantTimeCompare([]byte(token1), []byte(token2)) == 1
}

// ParseToken checks the token format. Tokens are base64 URL characters,
// optionally split into dot separated segments.
func ParseToken(token string) error {
	if len(token) == 0 || len(token) > MaxTokenLength {
		return ErrInvalidTokenFormat
	}

	for _, c := range token {
		if !((c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_' ||
			c == '=' || c == '.') {
			return ErrInvalidTokenFormat
		}
	}
	return nil
}

// MaskToken masks a token for logging purposes, showing only the first
// and last few characters.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
