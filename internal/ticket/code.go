// Package ticket mints and verifies the codes printed on ticket QR images.
//
// A code has the form PREFIX-<uuid>-<mac>, where mac is the first 16 hex
// characters of a keyed BLAKE3 hash of the uuid.
package ticket

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const macHexLen = 16

var (
	ErrMalformed = errors.New("malformed ticket code")
	ErrForged    = errors.New("ticket code signature mismatch")
)

// Minter signs ticket ids with a workspace secret.
type Minter struct {
	prefix string
	key    [32]byte
}

// NewMinter derives the signing key from secret. The prefix must not
// contain dashes.
func NewMinter(prefix string, secret []byte) (Minter, error) {
	if prefix == "" || strings.Contains(prefix, "-") {
		return Minter{}, fmt.Errorf("invalid ticket code prefix %q", prefix)
	}
	return Minter{prefix: prefix, key: blake3.Sum256(secret)}, nil
}

// Code returns the printable code for a ticket or guest id.
func (m Minter) Code(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("ticket id %q: %w", id, err)
	}
	return m.prefix + "-" + id + "-" + m.mac(id), nil
}

// Parse checks the prefix and signature of code and returns the id it
// was minted for.
func (m Minter) Parse(code string) (string, error) {
	code = strings.TrimSpace(code)
	prefix, rest, ok := strings.Cut(code, "-")
	if !ok || prefix != m.prefix || len(rest) <= macHexLen+1 {
		return "", ErrMalformed
	}
	id, mac := rest[:len(rest)-macHexLen-1], rest[len(rest)-macHexLen:]
	if rest[len(id)] != '-' {
		return "", ErrMalformed
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrMalformed
	}
	if subtle.ConstantTimeCompare([]byte(mac), []byte(m.mac(id))) != 1 {
		return "", ErrForged
	}
	return id, nil
}

func (m Minter) mac(id string) string {
	hasher, err := blake3.NewKeyed(m.key[:])
	if err != nil {
		panic("ticket: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(id))
	return hex.EncodeToString(hasher.Sum(nil))[:macHexLen]
}
