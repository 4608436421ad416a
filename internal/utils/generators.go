package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// codeBytes is 128 bits of entropy per ticket code.
const codeBytes = 16

// GenerateTicketCode returns an unguessable URL-safe code. The code is the
// ticket's only credential.
func GenerateTicketCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateID returns a prefixed UUID such as "ord_<uuid>".
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}
