package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordFormat(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	salt, key, found := strings.Cut(hash, ":")
	require.True(t, found, "stored hash must be salt:key")
	assert.Len(t, salt, saltLength*2)
	assert.Len(t, key, keyLength*2)
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	first, err := HashPassword("samepassword")
	require.NoError(t, err)
	second, err := HashPassword("samepassword")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each hash must use a fresh salt")
}

func TestVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("longenough1")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("longenough1", hash))
	assert.False(t, VerifyPassword("longenough2", hash))
	assert.False(t, VerifyPassword("", hash))
}

func TestVerifyPasswordFailsClosed(t *testing.T) {
	valid, err := HashPassword("whatever123")
	require.NoError(t, err)

	cases := map[string]string{
		"empty":            "",
		"no separator":     strings.ReplaceAll(valid, ":", ""),
		"missing salt":     ":" + strings.Split(valid, ":")[1],
		"missing key":      strings.Split(valid, ":")[0] + ":",
		"salt not hex":     "zz" + valid[2:],
		"key not hex":      strings.Split(valid, ":")[0] + ":nothex",
		"truncated key":    valid[:len(valid)-8],
		"garbage":          "not-a-hash-at-all",
		"colon only":       ":",
		"double separator": valid + ":extra",
	}

	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, VerifyPassword("whatever123", stored))
		})
	}
}
