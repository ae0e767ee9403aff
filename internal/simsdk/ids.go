package simsdk

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const (
	urlAlphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	urlSuffixLength = 8
)

// newChannelURL mints a channel URL with a random base36 suffix.
func newChannelURL() (string, error) {
	buf := make([]byte, urlSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate channel url: %w", err)
	}

	id := make([]byte, urlSuffixLength)
	for i := 0; i < urlSuffixLength; i++ {
		id[i] = urlAlphabet[int(buf[i])%len(urlAlphabet)]
	}

	return fmt.Sprintf("sim-%s", string(id)), nil
}

// newRequestID mints a client-side send identifier.
func newRequestID() string {
	return uuid.NewString()
}
