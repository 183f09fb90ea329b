package accesscode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// Alphabet for generated codes: uppercase letters and digits with the
// ambiguous O/0/I/1 removed so codes survive being read aloud.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultLength = 8
	MinLength     = 6
)

// Generate returns a random access code of the given length drawn from the
// unambiguous alphabet, using crypto/rand. A length below the minimum is
// bumped to the default.
func Generate(length int) (string, error) {
	if length < MinLength {
		length = DefaultLength
	}
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Validate trims surrounding whitespace and enforces the code policy:
// at least six characters, alphanumeric only.
func Validate(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if len(code) < MinLength {
		return "", apperr.Validation("Access code must be at least 6 characters")
	}
	for _, r := range code {
		if !isAlnum(r) {
			return "", apperr.Validation("Access code must be alphanumeric")
		}
	}
	return code, nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Hash returns the bcrypt hash of a code. The plaintext is never stored.
func Hash(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash access code: %w", err)
	}
	return string(h), nil
}

// Verify reports whether code matches the stored bcrypt hash. It never
// reveals which part of the comparison failed.
func Verify(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// Hint builds the recall hint stored alongside the hash: code length and the
// last two characters, never the body.
func Hint(code string) string {
	if len(code) < 2 {
		return fmt.Sprintf("len:%d", len(code))
	}
	return fmt.Sprintf("len:%d ends:%s", len(code), code[len(code)-2:])
}
