package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateSecureToken returns length bytes from crypto/rand as URL-safe
// base64, used for non-guessable nonces.
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
