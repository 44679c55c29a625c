package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 32
	saltBytes        = 32
	tokenBytes       = 32
)

// HashPassword derives the stored password hash from a plaintext password and
// a hex-encoded salt.
func HashPassword(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key)
}

// VerifyPassword reports whether the plaintext password matches the stored
// hash under the given salt. Comparison is constant-time.
func VerifyPassword(password, salt, hash string) bool {
	derived := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(hash)) == 1
}

// NewSalt generates a fresh hex-encoded password salt.
func NewSalt() string {
	return randomHex(saltBytes)
}

// NewAccountToken generates a fresh opaque account token.
func NewAccountToken() string {
	return randomHex(tokenBytes)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(err)
	}
	return hex.EncodeToString(buf)
}
