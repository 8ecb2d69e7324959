package encryption

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"compliance-core/internal/models"
)

// KeySize is the AES-256 key length in bytes. Keys are configured as 64 hex chars.
const KeySize = 32

// ParseKey decodes a hex key and rejects material that is obviously not random.
//
// The entropy check is a heuristic: it catches uniform and sequential test keys,
// nothing more. Keys should come from GenerateKey or a KMS.
func ParseKey(name, hexKey string) ([]byte, error) {
	if len(hexKey) != KeySize*2 {
		return nil, models.NewValidationError(models.CodeInvalidKey,
			fmt.Sprintf("%s must be %d hex characters, got %d", name, KeySize*2, len(hexKey)))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, models.NewValidationError(models.CodeInvalidKey, fmt.Sprintf("%s is not valid hex", name))
	}
	if isWeakKey(key) {
		zero(key)
		return nil, models.NewValidationError(models.CodeWeakKey, fmt.Sprintf("%s has insufficient entropy", name))
	}
	return key, nil
}

// GenerateKey returns a fresh random key encoded as 64 hex chars.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	for {
		if _, err := rand.Read(key); err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		if !isWeakKey(key) {
			break
		}
	}
	out := hex.EncodeToString(key)
	zero(key)
	return out, nil
}

func isWeakKey(key []byte) bool {
	if len(key) < 2 {
		return true
	}
	return allIdentical(key) || strictlyMonotonic(key) || constantStep(key)
}

func allIdentical(key []byte) bool {
	return bytes.Count(key, key[:1]) == len(key)
}

func strictlyMonotonic(key []byte) bool {
	asc, desc := true, true
	for i := 1; i < len(key); i++ {
		if key[i] <= key[i-1] {
			asc = false
		}
		if key[i] >= key[i-1] {
			desc = false
		}
	}
	return asc || desc
}

// constantStep catches counters that wrap, e.g. fe ff 00 01.
func constantStep(key []byte) bool {
	step := key[1] - key[0]
	if step != 1 && step != 0xff {
		return false
	}
	for i := 2; i < len(key); i++ {
		if key[i]-key[i-1] != step {
			return false
		}
	}
	return true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
