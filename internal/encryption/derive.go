package encryption

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"compliance-core/internal/config"
	"compliance-core/internal/models"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// Argon2 parameters
	Argon2Time    = 1         // Number of passes
	Argon2Memory  = 64 * 1024 // Memory in KiB (64 MB)
	Argon2Threads = 4         // Number of threads

	// MinSaltLength is the shortest accepted salt, in bytes
	MinSaltLength = 16
)

var (
	encryptionKeyInfo = []byte("compliance-core encryption key")
	hmacKeyInfo       = []byte("compliance-core hmac key")
)

// DeriveKeys turns an operator passphrase into an encryption key and an HMAC
// key, both as 64 hex chars. The passphrase is stretched with Argon2id and the
// result expanded with HKDF-SHA256 under distinct labels, so the two keys are
// independent. saltHex must decode to at least MinSaltLength bytes.
func DeriveKeys(passphrase, saltHex string) (encryptionKey, hmacKey string, err error) {
	if passphrase == "" {
		return "", "", models.NewValidationError(models.CodeInvalidKey, "passphrase is required")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", "", models.NewValidationError(models.CodeInvalidKey, "salt is not valid hex")
	}
	if len(salt) < MinSaltLength {
		return "", "", models.NewValidationError(models.CodeInvalidKey,
			fmt.Sprintf("salt must be at least %d bytes, got %d", MinSaltLength, len(salt)))
	}

	master := argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, KeySize)
	defer zero(master)

	encryptionKey, err = expand(master, salt, encryptionKeyInfo)
	if err != nil {
		return "", "", err
	}
	hmacKey, err = expand(master, salt, hmacKeyInfo)
	if err != nil {
		return "", "", err
	}
	return encryptionKey, hmacKey, nil
}

func expand(master, salt, info []byte) (string, error) {
	key := make([]byte, KeySize)
	defer zero(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, info), key); err != nil {
		return "", fmt.Errorf("failed to expand key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// resolveKeys fills in passphrase-derived keys for anything not configured explicitly
func resolveKeys(cfg *config.EncryptionConfig) error {
	if cfg.EncryptionKey != "" && cfg.HMACKey != "" {
		return nil
	}
	if cfg.Passphrase == "" {
		return models.NewValidationError(models.CodeInvalidKey, "an encryption key and hmac key, or a passphrase and salt, are required")
	}
	enc, mac, err := DeriveKeys(cfg.Passphrase, cfg.Salt)
	if err != nil {
		return err
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = enc
	}
	if cfg.HMACKey == "" {
		cfg.HMACKey = mac
	}
	return nil
}
