// Package crypto seals small secrets, such as cached provider tokens, before
// they are written to shared storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed envelope schema version.
	currentVersion = 1
)

// defaultSalt is used when no salt is configured. The key is derived once per
// process, so the salt is fixed rather than per-message.
var defaultSalt = []byte("dayahead/token-store/v1")

// envelope is the stored format for a sealed value.
type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Sealer encrypts and decrypts values with AES-256-GCM under a key derived
// from a password with PBKDF2-HMAC-SHA256. It is safe for concurrent use.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer derives the sealing key. An empty salt selects the default.
func NewSealer(password string, salt []byte) (*Sealer, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if len(salt) == 0 {
		salt = defaultSalt
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext and returns a JSON envelope.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := envelope{
		Version:    currentVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(s.gcm.Seal(nil, nonce, plaintext, nil)),
	}
	return json.Marshal(out)
}

// Open decrypts an envelope produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	var stored envelope
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed envelope: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	if len(nonce) != s.gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce length %d, want %d", len(nonce), s.gcm.NonceSize())
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plaintext, nil
}
