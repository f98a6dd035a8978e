package auth

import (
	"crypto/subtle"
	"strings"

	"cyberfolio/internal/config"
)

type AdminCredentials struct {
	Identifier string
	Digest     string
}

// CredentialStore holds the single admin credential read from configuration at startup.
type CredentialStore struct {
	identifier string
	verifier   Verifier
}

func NewCredentialStore(identifier, password, passwordHash string) (*CredentialStore, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, &config.ConfigurationError{Key: "ADMIN_USERNAME", Reason: "is required"}
	}

	verifier, err := NewVerifier(password, passwordHash)
	if err != nil {
		return nil, err
	}

	return &CredentialStore{identifier: identifier, verifier: verifier}, nil
}

func (s *CredentialStore) AdminCredentials() AdminCredentials {
	return AdminCredentials{Identifier: s.identifier, Digest: s.verifier.Digest()}
}

// Validate reports whether identifier and password match the admin credential.
// Identifiers compare case-insensitively. Both halves are always evaluated.
func (s *CredentialStore) Validate(identifier, password string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.TrimSpace(password) == "" {
		return false
	}

	identifierMatch := subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(identifier)),
		[]byte(strings.ToLower(s.identifier)),
	) == 1
	passwordMatch := s.verifier.Verify(password)

	return identifierMatch && passwordMatch
}
