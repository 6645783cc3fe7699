// Package vault encrypts third-party API keys at rest.
//
// Records use AES-256-CBC with PKCS#7 padding and a fresh random 16-byte IV
// per call. The stored form is hex(iv) + ":" + hex(ciphertext), which keeps
// records readable by any implementation sharing the same master key.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/tbourn/go-journal-backend/internal/common"
)

const (
	keySize   = 32
	ivSize    = aes.BlockSize
	separator = ":"
)

// randReader is the IV source; tests may replace it.
var randReader io.Reader = rand.Reader

// Cipher encrypts and decrypts credential records under one master key.
// The zero value and a nil *Cipher are unconfigured: every call fails with
// common.ErrConfiguration.
type Cipher struct {
	key []byte
}

// New builds a Cipher from a base64-encoded 32-byte master key.
func New(masterKeyB64 string) (*Cipher, error) {
	masterKeyB64 = strings.TrimSpace(masterKeyB64)
	if masterKeyB64 == "" {
		return nil, fmt.Errorf("%w: master key is not set", common.ErrConfiguration)
	}
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not valid base64", common.ErrConfiguration)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: master key must decode to %d bytes, got %d", common.ErrConfiguration, keySize, len(key))
	}
	return &Cipher{key: key}, nil
}

// GenerateKey returns a fresh random master key in the base64 form New accepts.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Configured reports whether c holds a usable master key.
func (c *Cipher) Configured() bool {
	return c != nil && len(c.key) == keySize
}

// Encrypt seals plaintext into a record.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: master key is not set", common.ErrConfiguration)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrConfiguration, err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(ct), nil
}

// Decrypt opens a record produced by Encrypt.
//
// A record without the separator or with an empty half fails with
// common.ErrMalformedRecord. Bad hex, a wrong IV or block length, and bad
// padding (typically a different master key) fail with common.ErrDecryption.
func (c *Cipher) Decrypt(record string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: master key is not set", common.ErrConfiguration)
	}
	ivHex, ctHex, found := strings.Cut(record, separator)
	if !found || ivHex == "" || ctHex == "" {
		return "", common.ErrMalformedRecord
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return "", common.ErrDecryption
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", common.ErrDecryption
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrConfiguration, err)
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	out, err := pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		return "", common.ErrDecryption
	}
	return string(out), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
