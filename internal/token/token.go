// Package token issues the per-request secrets that bind a gateway payment to a stored request.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

const nonceSize = 16

var ErrEmptySecret = errors.New("token: empty secret")

// Issuer derives tokens as a keyed BLAKE2b-256 MAC over orderID and a random nonce.
type Issuer struct {
	key  [32]byte
	rand io.Reader
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	// blake2b keys are capped at 64 bytes; hashing normalises any secret length.
	return &Issuer{key: blake2b.Sum256([]byte(secret)), rand: rand.Reader}, nil
}

// Issue returns a fresh URL-safe token for orderID. Two calls for the same order never collide.
func (i *Issuer) Issue(orderID string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(i.rand, nonce); err != nil {
		return "", fmt.Errorf("token: read nonce: %w", err)
	}
	mac, err := blake2b.New256(i.key[:])
	if err != nil {
		return "", fmt.Errorf("token: init mac: %w", err)
	}
	mac.Write([]byte(orderID))
	mac.Write([]byte{0})
	mac.Write(nonce)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Equal compares two tokens in constant time. Empty tokens never match.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
