package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a login names an unknown user so both
// paths spend the same time.
var dummyHash, _ = argon2id.CreateHash("slotgrid-dummy-password", argon2id.DefaultParams)

func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}

func ComparePassword(password, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(password, hash)
}

// BurnPasswordCheck performs a comparison whose result is discarded.
func BurnPasswordCheck(password string) {
	_, _ = argon2id.ComparePasswordAndHash(password, dummyHash)
}

// RandomSecret returns n random bytes encoded as unpadded base64url.
func RandomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret stores bcrypt(sha256(secret)). The pre-hash keeps long JWTs
// under bcrypt's 72 byte input limit.
func HashSecret(secret string) (string, error) {
	sum := sha256.Sum256([]byte(secret))
	h, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(sum[:])), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func CompareSecret(hash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(base64.RawStdEncoding.EncodeToString(sum[:]))) == nil
}
