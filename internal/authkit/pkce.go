package authkit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

const stateByteLength = 16

// PKCEChallenge is one verifier/challenge pair plus the state that correlates it.
type PKCEChallenge struct {
	CodeVerifier  string
	CodeChallenge string
	State         string
}

// GeneratePKCE returns a 256-bit base64url verifier and its S256 challenge.
func GeneratePKCE() (codeVerifier string, codeChallenge string) {
	codeVerifier = oauth2.GenerateVerifier()
	return codeVerifier, oauth2.S256ChallengeFromVerifier(codeVerifier)
}

// GenerateState returns 16 random bytes as hex, independent of the verifier.
func GenerateState() (string, error) {
	buffer := make([]byte, stateByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("pkce.state: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}

// NewPKCEChallenge generates a fresh verifier, challenge, and state.
func NewPKCEChallenge() (PKCEChallenge, error) {
	state, err := GenerateState()
	if err != nil {
		return PKCEChallenge{}, err
	}
	verifier, challenge := GeneratePKCE()
	return PKCEChallenge{CodeVerifier: verifier, CodeChallenge: challenge, State: state}, nil
}
