package auth

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"cyberfolio/internal/config"
)

const sha512HexLength = sha512.Size * 2

// HashPassword returns the lowercase hex SHA-512 digest of password.
//
// A fast unsalted digest is only acceptable here because there is a single static admin
// secret from deployment config. Any multi-user identity model must move to bcrypt or another slow KDF.
func HashPassword(password string) string {
	sum := sha512.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword recomputes the digest and compares in constant time.
func VerifyPassword(password, digest string) bool {
	computed := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(digest))) == 1
}

type Verifier interface {
	Verify(password string) bool
	Digest() string
}

type sha512Verifier struct {
	digest string
}

func (v sha512Verifier) Verify(password string) bool {
	return VerifyPassword(password, v.digest)
}

func (v sha512Verifier) Digest() string {
	return v.digest
}

type bcryptVerifier struct {
	hash []byte
}

func (v bcryptVerifier) Verify(password string) bool {
	return bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
}

func (v bcryptVerifier) Digest() string {
	return string(v.hash)
}

// NewVerifier picks the verifier for the configured secret. A pre-hashed digest wins over a
// plain password; it may be a SHA-512 hex digest or a bcrypt hash.
func NewVerifier(password, passwordHash string) (Verifier, error) {
	passwordHash = strings.TrimSpace(passwordHash)
	if passwordHash != "" {
		switch {
		case isBcryptHash(passwordHash):
			if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
				return nil, &config.ConfigurationError{Key: "ADMIN_PASSWORD_HASH", Reason: "is not a valid bcrypt hash"}
			}
			return bcryptVerifier{hash: []byte(passwordHash)}, nil
		case isSHA512Hex(passwordHash):
			return sha512Verifier{digest: strings.ToLower(passwordHash)}, nil
		default:
			return nil, &config.ConfigurationError{Key: "ADMIN_PASSWORD_HASH", Reason: "must be a sha512 hex digest or a bcrypt hash"}
		}
	}

	if password == "" {
		return nil, &config.ConfigurationError{Key: "ADMIN_PASSWORD", Reason: "is required"}
	}
	return sha512Verifier{digest: HashPassword(password)}, nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

func isSHA512Hex(value string) bool {
	if len(value) != sha512HexLength {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
