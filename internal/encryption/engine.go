package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"compliance-core/internal/config"
	"compliance-core/internal/metrics"
	"compliance-core/internal/models"
	"compliance-core/pkg/logger"
)

const (
	ivSize  = 12
	tagSize = 16
)

// EncryptedValue is the persisted form of an encrypted field. Ciphertext, IV and
// AuthTag are standard base64.
type EncryptedValue struct {
	Ciphertext string `json:"ciphertext" bson:"ciphertext"`
	IV         string `json:"iv" bson:"iv"`
	AuthTag    string `json:"authTag" bson:"authTag"`
	KeyVersion int    `json:"keyVersion" bson:"keyVersion"`
}

// KeyInfo describes the key ring without exposing material.
type KeyInfo struct {
	CurrentVersion  int        `json:"currentVersion"`
	PreviousVersion int        `json:"previousVersion,omitempty"`
	RotatedAt       *time.Time `json:"rotatedAt,omitempty"`
}

type keyEntry struct {
	version  int
	material []byte
	aead     cipher.AEAD
}

// keyRing is immutable once published.
type keyRing struct {
	current   *keyEntry
	previous  *keyEntry
	rotatedAt time.Time
}

func (r *keyRing) lookup(version int) *keyEntry {
	if r.current.version == version {
		return r.current
	}
	if r.previous != nil && r.previous.version == version {
		return r.previous
	}
	return nil
}

// Engine provides AES-256-GCM field encryption, HMAC search hashes and key rotation.
// It is safe for concurrent use.
type Engine struct {
	ring    atomic.Pointer[keyRing]
	rotate  sync.Mutex
	hmacKey []byte
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for rotation timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates the configured keys and builds the key ring. Keys left
// empty are derived from the configured passphrase.
func NewEngine(cfg config.EncryptionConfig, opts ...Option) (*Engine, error) {
	if cfg.KeyVersion < 1 {
		return nil, models.NewValidationError(models.CodeInvalidKey, "key version must be at least 1")
	}
	if err := resolveKeys(&cfg); err != nil {
		return nil, err
	}
	hmacKey, err := ParseKey("hmac key", cfg.HMACKey)
	if err != nil {
		return nil, err
	}
	current, err := newKeyEntry("encryption key", cfg.EncryptionKey, cfg.KeyVersion)
	if err != nil {
		return nil, err
	}
	if hmac.Equal(hmacKey, current.material) {
		return nil, models.NewValidationError(models.CodeInvalidKey, "hmac key must differ from the encryption key")
	}

	ring := &keyRing{current: current}
	if cfg.PreviousKey != "" {
		if cfg.KeyVersion < 2 {
			return nil, models.NewValidationError(models.CodeInvalidKey, "a previous key requires key version of at least 2")
		}
		previous, err := newKeyEntry("previous key", cfg.PreviousKey, cfg.KeyVersion-1)
		if err != nil {
			return nil, err
		}
		ring.previous = previous
	}

	e := &Engine{
		hmacKey: hmacKey,
		logger:  logger.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ring.Store(ring)
	return e, nil
}

func newKeyEntry(name, hexKey string, version int) (*keyEntry, error) {
	material, err := ParseKey(name, hexKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &keyEntry{version: version, material: material, aead: aead}, nil
}

type encryptOptions struct {
	keyVersion     int
	associatedData []byte
}

// EncryptOption adjusts a single Encrypt call.
type EncryptOption func(*encryptOptions)

// WithKeyVersion encrypts under a specific available key instead of the current one.
func WithKeyVersion(v int) EncryptOption {
	return func(o *encryptOptions) { o.keyVersion = v }
}

// WithAssociatedData binds ad to the ciphertext. Decrypt must be given the same bytes.
func WithAssociatedData(ad []byte) EncryptOption {
	return func(o *encryptOptions) { o.associatedData = ad }
}

type decryptOptions struct {
	associatedData []byte
}

type DecryptOption func(*decryptOptions)

func WithDecryptAssociatedData(ad []byte) DecryptOption {
	return func(o *decryptOptions) { o.associatedData = ad }
}

// Encrypt seals plaintext under a fresh random IV.
func (e *Engine) Encrypt(plaintext string, opts ...EncryptOption) (*EncryptedValue, error) {
	var o encryptOptions
	for _, opt := range opts {
		opt(&o)
	}

	ring := e.ring.Load()
	key := ring.current
	if o.keyVersion != 0 {
		key = ring.lookup(o.keyVersion)
		if key == nil {
			e.metrics.ObserveEncryption("encrypt", false)
			return nil, models.NewCryptographicError(models.CodeKeyVersionUnavailable,
				fmt.Sprintf("key version %d is not available", o.keyVersion), nil)
		}
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		e.metrics.ObserveEncryption("encrypt", false)
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := key.aead.Seal(nil, iv, []byte(plaintext), o.associatedData)
	split := len(sealed) - tagSize

	e.metrics.ObserveEncryption("encrypt", true)
	return &EncryptedValue{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
		KeyVersion: key.version,
	}, nil
}

// Decrypt opens value with the key matching its version. Any malformed or
// tampered field is reported as a cryptographic error.
func (e *Engine) Decrypt(value *EncryptedValue, opts ...DecryptOption) (string, error) {
	plaintext, err := e.open(value, opts...)
	e.metrics.ObserveEncryption("decrypt", err == nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (e *Engine) open(value *EncryptedValue, opts ...DecryptOption) ([]byte, error) {
	if value == nil {
		return nil, models.NewCryptographicError(models.CodeDecryptionFailed, "encrypted value is nil", nil)
	}
	var o decryptOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := e.ring.Load().lookup(value.KeyVersion)
	if key == nil {
		return nil, models.NewCryptographicError(models.CodeKeyVersionUnavailable,
			fmt.Sprintf("key version %d is not available", value.KeyVersion), nil)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(value.Ciphertext)
	if err != nil {
		return nil, decryptionFailed(fmt.Errorf("invalid ciphertext encoding: %w", err))
	}
	iv, err := base64.StdEncoding.DecodeString(value.IV)
	if err != nil {
		return nil, decryptionFailed(fmt.Errorf("invalid iv encoding: %w", err))
	}
	tag, err := base64.StdEncoding.DecodeString(value.AuthTag)
	if err != nil {
		return nil, decryptionFailed(fmt.Errorf("invalid auth tag encoding: %w", err))
	}
	if len(iv) != ivSize {
		return nil, decryptionFailed(fmt.Errorf("iv must be %d bytes", ivSize))
	}
	if len(tag) != tagSize {
		return nil, decryptionFailed(fmt.Errorf("auth tag must be %d bytes", tagSize))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := key.aead.Open(nil, iv, sealed, o.associatedData)
	if err != nil {
		return nil, decryptionFailed(err)
	}
	return plaintext, nil
}

func decryptionFailed(err error) error {
	return models.NewCryptographicError(models.CodeDecryptionFailed, "decryption failed", err)
}

// ReEncrypt upgrades value to the current key version. AAD given through
// WithAssociatedData is used for both the open and the seal.
func (e *Engine) ReEncrypt(value *EncryptedValue, opts ...EncryptOption) (*EncryptedValue, error) {
	var o encryptOptions
	for _, opt := range opts {
		opt(&o)
	}
	plaintext, err := e.Decrypt(value, WithDecryptAssociatedData(o.associatedData))
	if err != nil {
		return nil, err
	}
	return e.Encrypt(plaintext, WithAssociatedData(o.associatedData))
}

// NeedsReEncryption reports whether value was sealed under an older key.
func (e *Engine) NeedsReEncryption(value *EncryptedValue) bool {
	return value != nil && value.KeyVersion != e.ring.Load().current.version
}

// EncryptJSON marshals v and encrypts the resulting document.
func (e *Engine) EncryptJSON(v interface{}, opts ...EncryptOption) (*EncryptedValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return e.Encrypt(string(data), opts...)
}

// DecryptJSON decrypts value and unmarshals it into out.
func (e *Engine) DecryptJSON(value *EncryptedValue, out interface{}, opts ...DecryptOption) error {
	plaintext, err := e.Decrypt(value, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted value: %w", err)
	}
	return nil
}

// Hash returns the hex HMAC-SHA256 of value for equality search over encrypted columns.
func (e *Engine) Hash(value string) string {
	mac := hmac.New(sha256.New, e.hmacKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHash compares in constant time.
func (e *Engine) VerifyHash(value, hash string) bool {
	return hmac.Equal([]byte(e.Hash(value)), []byte(hash))
}

// RotateKey installs newKeyHex as the current key. The current key becomes the
// previous one and the old previous key is zeroed.
func (e *Engine) RotateKey(newKeyHex string) error {
	e.rotate.Lock()
	defer e.rotate.Unlock()

	old := e.ring.Load()
	next, err := newKeyEntry("new key", newKeyHex, old.current.version+1)
	if err != nil {
		e.metrics.ObserveEncryption("rotate", false)
		return err
	}
	if hmac.Equal(next.material, e.hmacKey) || hmac.Equal(next.material, old.current.material) {
		zero(next.material)
		e.metrics.ObserveEncryption("rotate", false)
		return models.NewValidationError(models.CodeInvalidKey, "new key must differ from the hmac key and the current key")
	}

	rotatedAt := e.now()
	e.ring.Store(&keyRing{current: next, previous: old.current, rotatedAt: rotatedAt})

	if old.previous != nil {
		zero(old.previous.material)
		old.previous.material = nil
	}

	e.metrics.ObserveEncryption("rotate", true)
	e.logger.Info("Encryption key rotated", map[string]interface{}{
		"key_version":      next.version,
		"previous_version": old.current.version,
	})
	return nil
}

// KeyInfo reports the versions currently held.
func (e *Engine) KeyInfo() KeyInfo {
	ring := e.ring.Load()
	info := KeyInfo{CurrentVersion: ring.current.version}
	if ring.previous != nil {
		info.PreviousVersion = ring.previous.version
	}
	if !ring.rotatedAt.IsZero() {
		t := ring.rotatedAt
		info.RotatedAt = &t
	}
	return info
}

// IsDecryptionError reports whether err came from a failed decrypt.
func IsDecryptionError(err error) bool {
	return errors.Is(err, models.ErrCryptographic)
}
