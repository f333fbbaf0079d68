package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/smallbiznis/dealcadence/internal/credential/domain"
	"golang.org/x/crypto/hkdf"
)

const (
	payloadVersion = 1
	keyInfo        = "dealcadence/integration-credential/v1"
)

var errUnsupportedPayload = errors.New("unsupported_payload_version")

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type tokenCipher struct {
	key []byte
}

func newTokenCipher(secret string) (*tokenCipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &tokenCipher{}, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	return &tokenCipher{key: key}, nil
}

func (c *tokenCipher) encrypt(plaintext string) (string, error) {
	if len(c.key) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out, err := json.Marshal(encryptedPayload{
		Version:    payloadVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(plaintext), nil)),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *tokenCipher) decrypt(stored string) (string, error) {
	if len(c.key) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}

	var payload encryptedPayload
	if err := json.Unmarshal([]byte(stored), &payload); err != nil {
		return "", err
	}
	if payload.Version != payloadVersion {
		return "", errUnsupportedPayload
	}
	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errUnsupportedPayload
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (c *tokenCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
