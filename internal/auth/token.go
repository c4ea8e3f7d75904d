package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// participantTokenBytes is the entropy of a participant stream token.
const participantTokenBytes = 48

// NewParticipantToken mints an opaque URL-safe token for participant
// stream authentication.
func NewParticipantToken() (string, error) {
	buf := make([]byte, participantTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("participant token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
