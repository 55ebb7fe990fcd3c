// internal/identity/identity.go
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length in bytes of an owner identity.
const Size = ed25519.PublicKeySize

var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the public key of the party that owns or operates on a library.
type Identity [Size]byte

// Parse decodes the lowercase or uppercase hex form of an identity.
func Parse(s string) (Identity, error) {
	var id Identity
	if len(s) != hex.EncodedLen(Size) {
		return id, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidIdentity, hex.EncodedLen(Size), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return id, nil
}

// FromPublicKey converts an Ed25519 public key into an identity.
func FromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	var id Identity
	if len(pub) != Size {
		return id, fmt.Errorf("%w: public key is %d bytes", ErrInvalidIdentity, len(pub))
	}
	copy(id[:], pub)
	return id, nil
}

// PublicKey returns the identity as an Ed25519 verification key.
func (id Identity) PublicKey() ed25519.PublicKey {
	pub := make(ed25519.PublicKey, Size)
	copy(pub, id[:])
	return pub
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
