package encryption

import (
	"errors"
	"testing"

	"compliance-core/internal/config"
	"compliance-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSalt = "00112233445566778899aabbccddeeff"

func TestDeriveKeys(t *testing.T) {
	enc, mac, err := DeriveKeys("correct horse battery staple", testSalt)
	require.NoError(t, err)

	assert.Len(t, enc, KeySize*2)
	assert.Len(t, mac, KeySize*2)
	assert.NotEqual(t, enc, mac)

	_, err = ParseKey("derived", enc)
	assert.NoError(t, err)

	enc2, mac2, err := DeriveKeys("correct horse battery staple", testSalt)
	require.NoError(t, err)
	assert.Equal(t, enc, enc2, "derivation is deterministic")
	assert.Equal(t, mac, mac2)

	enc3, _, err := DeriveKeys("correct horse battery staple", "ffeeddccbbaa99887766554433221100")
	require.NoError(t, err)
	assert.NotEqual(t, enc, enc3)
}

func TestDeriveKeys_Validation(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		salt       string
	}{
		{"empty passphrase", "", testSalt},
		{"salt not hex", "secret", "not-hex"},
		{"salt too short", "secret", "0011223344"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DeriveKeys(tt.passphrase, tt.salt)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation))
			assert.Equal(t, models.CodeInvalidKey, models.CodeOf(err))
		})
	}
}

func TestNewEngine_FromPassphrase(t *testing.T) {
	cfg := config.EncryptionConfig{KeyVersion: 1, Passphrase: "correct horse battery staple", Salt: testSalt}

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	value, err := e.Encrypt("alice@example.com")
	require.NoError(t, err)

	// a second engine from the same passphrase reads what the first wrote
	other, err := NewEngine(cfg)
	require.NoError(t, err)
	plaintext, err := other.Decrypt(value)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", plaintext)
	assert.Equal(t, e.Hash("alice@example.com"), other.Hash("alice@example.com"))
}

func TestNewEngine_MissingKeys(t *testing.T) {
	_, err := NewEngine(config.EncryptionConfig{KeyVersion: 1})
	require.Error(t, err)
	assert.Equal(t, models.CodeInvalidKey, models.CodeOf(err))
}
