package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	confirmationCodeMin  = 100000
	confirmationCodeSpan = 900000 // codes are drawn from 100000..999999

	refreshSecretBytes = 32
)

// GenerateConfirmationCode returns a 6-digit code drawn from a CSPRNG.
// Modulo reduction over 4 random bytes carries negligible bias across a
// 900000-value space and is what matters here: unpredictability.
func GenerateConfirmationCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("error while generating confirmation code. Err: %w", err)
	}

	n := int(binary.BigEndian.Uint32(b[:])%confirmationCodeSpan) + confirmationCodeMin
	return strconv.Itoa(n), nil
}

// GenerateRefreshSecret returns a fresh 256-bit random secret, base64.
func GenerateRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating refresh secret. Err: %w", err)
	}

	return base64.StdEncoding.EncodeToString(b), nil
}
