// Package keys resolves and protects the operator's Ethereum private key.
// Keys can come in raw from the environment or from a password-encrypted
// file produced by Encrypt.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	schemaVersion    = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted operator key.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Config carries the information Load needs to resolve the operator key.
// Populate the fields from environment variables or the config file.
type Config struct {
	// RawPrivateKey is the hex-encoded key (0x prefix optional). If set it
	// wins over the encrypted file.
	RawPrivateKey string

	// EncryptedKeyPath points at a JSON file produced by Encrypt.
	EncryptedKeyPath string

	// Password decrypts the file at EncryptedKeyPath.
	Password string
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

// Encrypt seals a hex-encoded private key with a password using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM. It returns the JSON blob
// to write to disk.
func Encrypt(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("keys: password must not be empty")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("keys: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("keys: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keys: generating salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keys: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: generating nonce: %w", err)
	}

	out := encryptedKeyJSON{
		Version:    schemaVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decrypt opens a JSON blob produced by Encrypt, returning the hex-encoded
// private key without the 0x prefix.
func Decrypt(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("keys: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("keys: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != schemaVersion {
		return "", fmt.Errorf("keys: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("keys: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("keys: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("keys: decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", fmt.Errorf("keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("keys: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("keys: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// Load resolves the operator's ECDSA key from the configuration. A raw key
// takes precedence over the encrypted file.
func Load(cfg Config) (*ecdsa.PrivateKey, error) {
	hexKey, err := loadHex(cfg)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keys: parsing ECDSA key: %w", err)
	}
	return key, nil
}

func loadHex(cfg Config) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("keys: RawPrivateKey is not valid hex: %w", err)
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("keys: reading encrypted key file: %w", err)
		}
		return Decrypt(data, cfg.Password)
	}
	return "", errors.New("keys: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}
