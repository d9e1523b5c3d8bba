package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// XOR cycles key over the UTF-8 bytes of the text and base64-encodes the
// result. Anyone holding the key (often just the form key) can reverse it.
type XOR struct {
	Key []byte
}

// NewXOR builds an XOR obfuscator from arbitrary key material.
func NewXOR(key string) XOR {
	return XOR{Key: []byte(key)}
}

func (x XOR) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ x.Key[i%len(x.Key)]
	}
	return out
}

func (x XOR) Obfuscate(text string) (string, bool) {
	if len(x.Key) == 0 {
		return text, false
	}
	return base64.StdEncoding.EncodeToString(x.apply([]byte(text))), true
}

func (x XOR) Deobfuscate(text string, wasObfuscated bool) string {
	if !wasObfuscated || len(x.Key) == 0 {
		return text
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return text
	}
	return string(x.apply(raw))
}

// Sealed encrypts with XChaCha20-Poly1305 under a key derived from a secret
// with HKDF-SHA256. The random nonce is prepended to the ciphertext.
type Sealed struct {
	key []byte
}

// NewSealed derives a 256-bit key from secret, bound to info (for example the
// form key) so different forms never share a key.
func NewSealed(secret []byte, info string) (*Sealed, error) {
	if len(secret) == 0 {
		return nil, errors.New("codec: sealed obfuscator requires a secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("formdraft/"+info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("codec: derive key: %w", err)
	}
	return &Sealed{key: key}, nil
}

func (s *Sealed) Obfuscate(text string) (string, bool) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return text, false
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(text)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return text, false
	}
	sealed := aead.Seal(nonce, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(sealed), true
}

func (s *Sealed) Deobfuscate(text string, wasObfuscated bool) string {
	if !wasObfuscated {
		return text
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return text
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil || len(raw) < aead.NonceSize() {
		return text
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return text
	}
	return string(plain)
}
