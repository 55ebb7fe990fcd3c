// internal/address/address.go
package address

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"shelfkeeper/internal/identity"
)

// Size is the length in bytes of a record address.
const Size = blake2b.Size256

var ErrInvalidAddress = errors.New("invalid address")

// Address locates an owner's record in the store.
type Address [Size]byte

// Resolver maps an owner identity to the address of its record.
type Resolver interface {
	Resolve(owner identity.Identity) Address
}

// Namespace is a Resolver that derives addresses under a fixed label.
type Namespace string

func (n Namespace) Resolve(owner identity.Identity) Address {
	return Derive(string(n), owner)
}

// Derive hashes the namespace label and the owner identity into an address.
// The label is length-prefixed so that distinct (label, owner) pairs never
// share a preimage.
func Derive(namespace string, owner identity.Identity) Address {
	buf := make([]byte, 0, 2+len(namespace)+identity.Size)
	buf = append(buf, byte(len(namespace)>>8), byte(len(namespace)))
	buf = append(buf, namespace...)
	buf = append(buf, owner[:]...)
	return Address(blake2b.Sum256(buf))
}

// Parse decodes the hex form of an address.
func Parse(s string) (Address, error) {
	var a Address
	if len(s) != hex.EncodedLen(Size) {
		return a, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidAddress, hex.EncodedLen(Size), len(s))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return a, nil
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
