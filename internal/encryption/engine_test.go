package encryption

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"compliance-core/internal/config"
	"compliance-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "7f3a9c2e4b1d8f6a0c5e3b9d2a7f4c1e8b6d0a3f5c9e2b7d4a1f8c6e3b0d5a92"
	testHMACKey = "c4e8a1f7b3d92e6c0a5f8b1d4e7a3c9f2b6e0d8a5c1f4b7e9a2d6c3f0b8e5a17"
	testNextKey = "2b9e4f71c08a3d56e1f7b24c9a0d83e6f5b1c7a49d2e08f63b7c1a5e9d40f28c"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.EncryptionConfig{
		EncryptionKey: testKey,
		KeyVersion:    1,
		HMACKey:       testHMACKey,
	})
	require.NoError(t, err)
	return e
}

func TestEngine_RoundTrip(t *testing.T) {
	e := newTestEngine(t)

	for _, plaintext := range []string{"", "alice@example.com", "Ünïcödé ✓", strings.Repeat("x", 4096)} {
		value, err := e.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Equal(t, 1, value.KeyVersion)

		got, err := e.Decrypt(value)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEngine_WireFormat(t *testing.T) {
	e := newTestEngine(t)

	value, err := e.Encrypt("4111-1111-1111-1111")
	require.NoError(t, err)

	iv, err := base64.StdEncoding.DecodeString(value.IV)
	require.NoError(t, err)
	tag, err := base64.StdEncoding.DecodeString(value.AuthTag)
	require.NoError(t, err)

	assert.Len(t, iv, 12)
	assert.Len(t, tag, 16)
}

func TestEngine_AssociatedData(t *testing.T) {
	e := newTestEngine(t)

	value, err := e.Encrypt("123-45-6789", WithAssociatedData([]byte("tenant-1:user-9")))
	require.NoError(t, err)

	got, err := e.Decrypt(value, WithDecryptAssociatedData([]byte("tenant-1:user-9")))
	require.NoError(t, err)
	assert.Equal(t, "123-45-6789", got)

	_, err = e.Decrypt(value, WithDecryptAssociatedData([]byte("tenant-2:user-9")))
	assert.True(t, errors.Is(err, models.ErrCryptographic))

	_, err = e.Decrypt(value)
	assert.True(t, errors.Is(err, models.ErrCryptographic))
}

func TestEngine_NonDeterministic(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.Encrypt("same input")
	require.NoError(t, err)
	b, err := e.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func flipFirstByte(t *testing.T, encoded string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	raw[0] ^= 0x01
	return base64.StdEncoding.EncodeToString(raw)
}

func TestEngine_TamperDetection(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name   string
		tamper func(v *EncryptedValue)
	}{
		{"ciphertext", func(v *EncryptedValue) { v.Ciphertext = flipFirstByte(t, v.Ciphertext) }},
		{"iv", func(v *EncryptedValue) { v.IV = flipFirstByte(t, v.IV) }},
		{"auth tag", func(v *EncryptedValue) { v.AuthTag = flipFirstByte(t, v.AuthTag) }},
		{"key version", func(v *EncryptedValue) { v.KeyVersion = 7 }},
		{"truncated tag", func(v *EncryptedValue) { v.AuthTag = base64.StdEncoding.EncodeToString([]byte("short")) }},
		{"bad base64", func(v *EncryptedValue) { v.IV = "!!not-base64!!" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := e.Encrypt("sensitive")
			require.NoError(t, err)

			tt.tamper(value)

			got, err := e.Decrypt(value)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrCryptographic))
			assert.Empty(t, got)
		})
	}
}

func TestEngine_Hash(t *testing.T) {
	e := newTestEngine(t)

	assert.Equal(t, e.Hash("Test"), e.Hash("Test"))
	assert.NotEqual(t, e.Hash("Test"), e.Hash("test"))
	assert.Len(t, e.Hash(""), 64)

	h := e.Hash("alice@example.com")
	assert.True(t, e.VerifyHash("alice@example.com", h))
	assert.False(t, e.VerifyHash("bob@example.com", h))
	assert.False(t, e.VerifyHash("alice@example.com", h[:10]))
}

func TestEngine_HashUsesSeparateKey(t *testing.T) {
	other, err := NewEngine(config.EncryptionConfig{
		EncryptionKey: testKey,
		KeyVersion:    1,
		HMACKey:       testNextKey,
	})
	require.NoError(t, err)

	assert.NotEqual(t, newTestEngine(t).Hash("x"), other.Hash("x"))
}

func TestEngine_RotateKey(t *testing.T) {
	rotatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, err := NewEngine(config.EncryptionConfig{
		EncryptionKey: testKey,
		KeyVersion:    1,
		HMACKey:       testHMACKey,
	}, WithClock(func() time.Time { return rotatedAt }))
	require.NoError(t, err)

	old, err := e.Encrypt("pre-rotation")
	require.NoError(t, err)

	require.NoError(t, e.RotateKey(testNextKey))

	info := e.KeyInfo()
	assert.Equal(t, 2, info.CurrentVersion)
	assert.Equal(t, 1, info.PreviousVersion)
	require.NotNil(t, info.RotatedAt)
	assert.Equal(t, rotatedAt, *info.RotatedAt)

	got, err := e.Decrypt(old)
	require.NoError(t, err)
	assert.Equal(t, "pre-rotation", got)
	assert.True(t, e.NeedsReEncryption(old))

	upgraded, err := e.ReEncrypt(old)
	require.NoError(t, err)
	assert.Equal(t, 2, upgraded.KeyVersion)
	assert.False(t, e.NeedsReEncryption(upgraded))

	got, err = e.Decrypt(upgraded)
	require.NoError(t, err)
	assert.Equal(t, "pre-rotation", got)
}

func TestEngine_RotateTwiceDropsOldestKey(t *testing.T) {
	e := newTestEngine(t)

	v1, err := e.Encrypt("first")
	require.NoError(t, err)

	require.NoError(t, e.RotateKey(testNextKey))
	third, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, e.RotateKey(third))

	_, err = e.Decrypt(v1)
	require.Error(t, err)
	assert.Equal(t, models.CodeKeyVersionUnavailable, models.CodeOf(err))

	v3, err := e.Encrypt("third")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.KeyVersion)
}

func TestEngine_RotateRejectsWeakAndReusedKeys(t *testing.T) {
	e := newTestEngine(t)

	for _, key := range []string{
		strings.Repeat("00", 32),
		strings.Repeat("ab", 32),
		testKey,
		testHMACKey,
		"short",
	} {
		err := e.RotateKey(key)
		require.Error(t, err, key)
		assert.True(t, errors.Is(err, models.ErrValidation))
	}
	assert.Equal(t, 1, e.KeyInfo().CurrentVersion)
}

func TestEngine_PreviousKeyFromConfig(t *testing.T) {
	first := newTestEngine(t)
	old, err := first.Encrypt("carried over")
	require.NoError(t, err)

	e, err := NewEngine(config.EncryptionConfig{
		EncryptionKey: testNextKey,
		PreviousKey:   testKey,
		KeyVersion:    2,
		HMACKey:       testHMACKey,
	})
	require.NoError(t, err)

	got, err := e.Decrypt(old)
	require.NoError(t, err)
	assert.Equal(t, "carried over", got)

	pinned, err := e.Encrypt("legacy", WithKeyVersion(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.KeyVersion)

	_, err = e.Encrypt("nope", WithKeyVersion(9))
	assert.True(t, errors.Is(err, models.ErrCryptographic))
}

func sequentialKey(start byte, step int) string {
	b := make([]byte, KeySize)
	for i := range b {
		b[i] = byte(int(start) + i*step)
	}
	return hex.EncodeToString(b)
}

func TestNewEngine_KeyValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EncryptionConfig
		code string
	}{
		{"all zero key", config.EncryptionConfig{EncryptionKey: strings.Repeat("00", 32), HMACKey: testHMACKey, KeyVersion: 1}, models.CodeWeakKey},
		{"identical bytes", config.EncryptionConfig{EncryptionKey: strings.Repeat("5a", 32), HMACKey: testHMACKey, KeyVersion: 1}, models.CodeWeakKey},
		{"ascending", config.EncryptionConfig{EncryptionKey: sequentialKey(0x00, 1), HMACKey: testHMACKey, KeyVersion: 1}, models.CodeWeakKey},
		{"descending", config.EncryptionConfig{EncryptionKey: sequentialKey(0xff, -1), HMACKey: testHMACKey, KeyVersion: 1}, models.CodeWeakKey},
		{"wrapping counter", config.EncryptionConfig{EncryptionKey: sequentialKey(0xf0, 1), HMACKey: testHMACKey, KeyVersion: 1}, models.CodeWeakKey},
		{"weak hmac key", config.EncryptionConfig{EncryptionKey: testKey, HMACKey: strings.Repeat("11", 32), KeyVersion: 1}, models.CodeWeakKey},
		{"wrong length", config.EncryptionConfig{EncryptionKey: testKey[:32], HMACKey: testHMACKey, KeyVersion: 1}, models.CodeInvalidKey},
		{"not hex", config.EncryptionConfig{EncryptionKey: strings.Repeat("zz", 32), HMACKey: testHMACKey, KeyVersion: 1}, models.CodeInvalidKey},
		{"hmac equals key", config.EncryptionConfig{EncryptionKey: testKey, HMACKey: testKey, KeyVersion: 1}, models.CodeInvalidKey},
		{"zero version", config.EncryptionConfig{EncryptionKey: testKey, HMACKey: testHMACKey}, models.CodeInvalidKey},
		{"previous without version", config.EncryptionConfig{EncryptionKey: testKey, PreviousKey: testNextKey, HMACKey: testHMACKey, KeyVersion: 1}, models.CodeInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation))
			assert.Equal(t, tt.code, models.CodeOf(err))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, k, 64)

	_, err = ParseKey("generated", k)
	assert.NoError(t, err)
}

func TestEngine_JSONHelpers(t *testing.T) {
	e := newTestEngine(t)

	type address struct {
		Street string `json:"street"`
		City   string `json:"city"`
	}

	value, err := e.EncryptJSON(address{Street: "1 Main St", City: "Springfield"})
	require.NoError(t, err)

	var out address
	require.NoError(t, e.DecryptJSON(value, &out))
	assert.Equal(t, "Springfield", out.City)
}

func TestEngine_ConcurrentDecryptDuringRotation(t *testing.T) {
	e := newTestEngine(t)
	value, err := e.Encrypt("stable")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Decrypt(value); err != nil {
				errs <- err
			}
		}()
	}
	require.NoError(t, e.RotateKey(testNextKey))
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("decrypt failed during rotation: %v", err)
	}
}
