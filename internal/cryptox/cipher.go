// Package cryptox holds the vault's cryptographic primitives: the symmetric
// cipher that protects stored secrets and the one-way hasher used for master
// passwords and security-question answers.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/revpass/passkeeper/internal/common"
)

// legacyIV is the fixed initialization vector used by rows written before
// per-record IVs were introduced.
const legacyIV = "RevPassIV_16byte"

// randomIVPrefix marks ciphertexts that carry their own IV in front of the
// encrypted blocks.
const randomIVPrefix = "v2:"

// SecretCipher encrypts vault passwords with AES-128-CBC and PKCS#7 padding.
// The key is the first 16 bytes of SHA-256(secret).
//
// Two output formats exist:
//
//	fixed IV:  base64(ciphertext)                 deterministic
//	random IV: "v2:" + base64(iv || ciphertext)
//
// Decrypt accepts both regardless of the mode the cipher writes in.
type SecretCipher struct {
	block    cipher.Block
	randomIV bool
	rand     io.Reader
}

// CipherOption configures a SecretCipher.
type CipherOption func(*SecretCipher)

// WithRandomIV makes Encrypt draw a fresh IV for every call.
func WithRandomIV() CipherOption {
	return func(c *SecretCipher) { c.randomIV = true }
}

// NewSecretCipher derives the AES key from secret.
func NewSecretCipher(secret string, opts ...CipherOption) (*SecretCipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}

	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:16])
	if err != nil {
		return nil, err
	}

	c := &SecretCipher{block: block, rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encrypt returns the text-safe encoding of plaintext.
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)

	iv := []byte(legacyIV)
	if c.randomIV {
		iv = make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(c.rand, iv); err != nil {
			return "", fmt.Errorf("generate iv: %w", err)
		}
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	if !c.randomIV {
		return base64.StdEncoding.EncodeToString(out), nil
	}
	return randomIVPrefix + base64.StdEncoding.EncodeToString(append(iv, out...)), nil
}

// Decrypt reverses Encrypt. Malformed input yields an error wrapping
// common.ErrDecryption.
func (c *SecretCipher) Decrypt(ciphertext string) (string, error) {
	iv := []byte(legacyIV)
	encoded := ciphertext

	withIV := strings.HasPrefix(ciphertext, randomIVPrefix)
	if withIV {
		encoded = strings.TrimPrefix(ciphertext, randomIVPrefix)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	if withIV {
		if len(raw) < aes.BlockSize {
			return "", fmt.Errorf("%w: missing iv", common.ErrDecryption)
		}
		iv, raw = raw[:aes.BlockSize], raw[aes.BlockSize:]
	}

	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", common.ErrDecryption)
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, raw)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty block", common.ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
