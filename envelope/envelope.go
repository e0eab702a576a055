package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// Version is the envelope format tag written by [Sealer.Seal].
	Version = "v1"
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
	partCount = 4
)

const hkdfInfo = "goBFF envelope key v1"

// ErrInvalidSecret is returned when the configured secret cannot produce a key.
var ErrInvalidSecret = errors.New("invalid envelope secret")

var b64 = base64.RawURLEncoding

// Sealer encrypts with the current key and decrypts with the current key or
// any previous key. It is safe for concurrent use.
type Sealer struct {
	current  cipher.AEAD
	previous []cipher.AEAD
}

// New derives the current key from secret (and retired keys from previous)
// exactly once and returns a ready [Sealer].
func New(secret string, previous ...string) (*Sealer, error) {
	current, err := aeadFor(secret)
	if err != nil {
		return nil, err
	}

	s := &Sealer{current: current}
	for i, p := range previous {
		if strings.TrimSpace(p) == "" {
			continue
		}
		aead, err := aeadFor(p)
		if err != nil {
			return nil, fmt.Errorf("previous secret %d: %w", i, err)
		}
		s.previous = append(s.previous, aead)
	}
	return s, nil
}

func aeadFor(secret string) (cipher.AEAD, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return aead, nil
}

// DeriveKey normalizes a configured secret into a 32-byte key.
//
// Accepted forms, in order: 64 hex characters; base64 (standard or URL
// alphabet, padded or not) decoding to exactly 32 bytes; anything else is
// stretched one-way with HKDF-SHA256.
func DeriveKey(secret string) ([KeySize]byte, error) {
	var key [KeySize]byte

	s := strings.TrimSpace(secret)
	if s == "" {
		return key, ErrInvalidSecret
	}

	if len(s) == 2*KeySize {
		if raw, err := hex.DecodeString(s); err == nil {
			copy(key[:], raw)
			return key, nil
		}
	}

	if raw, ok := decodeBase64Key(s); ok {
		copy(key[:], raw)
		return key, nil
	}

	r := hkdf.New(sha256.New, []byte(s), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

func decodeBase64Key(s string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		raw, err := enc.DecodeString(s)
		if err == nil && len(raw) == KeySize {
			return raw, true
		}
	}
	return nil, false
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || s.current == nil {
		return "", ErrInvalidSecret
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("envelope nonce: %w", err)
	}

	sealed := s.current.Seal(nil, nonce[:], []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	var b strings.Builder
	b.Grow(len(Version) + 3 + b64.EncodedLen(nonceSize) + b64.EncodedLen(tagSize) + b64.EncodedLen(len(ct)))
	b.WriteString(Version)
	b.WriteByte('.')
	b.WriteString(b64.EncodeToString(nonce[:]))
	b.WriteByte('.')
	b.WriteString(b64.EncodeToString(tag))
	b.WriteByte('.')
	b.WriteString(b64.EncodeToString(ct))
	return b.String(), nil
}

// Open authenticates and decrypts an envelope. It reports false for every
// failure mode.
func (s *Sealer) Open(envelope string) (string, bool) {
	if s == nil || s.current == nil {
		return "", false
	}

	parts := strings.Split(envelope, ".")
	if len(parts) != partCount || parts[0] != Version {
		return "", false
	}

	nonce, err := b64.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSize {
		return "", false
	}
	tag, err := b64.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", false
	}
	ct, err := b64.DecodeString(parts[3])
	if err != nil {
		return "", false
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	if plain, err := s.current.Open(nil, nonce, sealed, nil); err == nil {
		return string(plain), true
	}
	for _, aead := range s.previous {
		if plain, err := aead.Open(nil, nonce, sealed, nil); err == nil {
			return string(plain), true
		}
	}
	return "", false
}
