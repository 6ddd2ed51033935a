// Package crypto seals note records at rest.
package crypto

import (
	"crypto/cipher"
	crand "crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

const SaltSize = 16

var ErrDecrypt = errors.New("note store: wrong passphrase or corrupted record")

// Encrypt seals plaintext with ChaCha20-Poly1305. additionalData is
// authenticated but not encrypted.
func Encrypt(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

func Decrypt(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("invalid nonce size: must be %d bytes", chacha20poly1305.NonceSize)
	}
	return chacha20poly1305.New(key)
}

// ExpandKey stretches a 32-byte secret to outputLen bytes with keyed BLAKE2s
// over secret || counter, counter starting at 1.
func ExpandKey(secret []byte, personalization string, outputLen int) ([]byte, error) {
	if len(secret) != 32 {
		return nil, errors.New("secret must be 32 bytes")
	}
	var out []byte
	var counter byte = 1
	for len(out) < outputLen {
		h, err := blake2s.New256([]byte(personalization))
		if err != nil {
			return nil, fmt.Errorf("blake2s: %w", err)
		}
		h.Write(secret)
		h.Write([]byte{counter})
		out = append(out, h.Sum(nil)...)

		counter++
		if counter == 0 {
			return nil, errors.New("KDF counter overflow")
		}
	}
	return out[:outputLen], nil
}

// Sealer encrypts records under a key derived from a passphrase.
type Sealer struct {
	key []byte
}

// NewSealer derives the record key: argon2id(passphrase, salt) expanded
// with BLAKE2s.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes", SaltSize)
	}
	master := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	key, err := ExpandKey(master, "zkpool_NoteStore", chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := crand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := crand.Read(nonce); err != nil {
		return nil, err
	}
	ct, err := Encrypt(s.key, nonce, plaintext, additionalData)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrDecrypt
	}
	nonce := sealed[:chacha20poly1305.NonceSize]
	return Decrypt(s.key, nonce, sealed[chacha20poly1305.NonceSize:], additionalData)
}
