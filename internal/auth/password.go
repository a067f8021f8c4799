package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters. The derived key is deliberately expensive to compute so
// stored hashes resist offline brute force.
const (
	saltLength = 16
	keyLength  = 64
	scryptN    = 32768
	scryptR    = 8
	scryptP    = 1
)

// HashPassword derives a salted scrypt hash. Output format: hex(salt):hex(key).
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// VerifyPassword recomputes the derived key and compares in constant time.
// Malformed stored hashes fail closed.
func VerifyPassword(password, storedHash string) bool {
	salt, want, ok := splitStoredHash(storedHash)
	if !ok {
		return false
	}

	got, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return false
	}
	if len(got) != len(want) {
		return false
	}

	return subtle.ConstantTimeCompare(want, got) == 1
}

func splitStoredHash(storedHash string) (salt, key []byte, ok bool) {
	rawSalt, rawKey, found := strings.Cut(storedHash, ":")
	if !found || rawSalt == "" || rawKey == "" {
		return nil, nil, false
	}

	salt, err := hex.DecodeString(rawSalt)
	if err != nil {
		return nil, nil, false
	}
	key, err = hex.DecodeString(rawKey)
	if err != nil {
		return nil, nil, false
	}

	return salt, key, true
}
