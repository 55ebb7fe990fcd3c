// internal/identity/keys.go
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// GenerateKey creates a new signing key and returns it with its identity.
func GenerateKey() (ed25519.PrivateKey, Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("generate key: %w", err)
	}
	id, err := FromPublicKey(pub)
	if err != nil {
		return nil, Identity{}, err
	}
	return priv, id, nil
}

// Of returns the identity that a signing key proves.
func Of(key ed25519.PrivateKey) Identity {
	var id Identity
	copy(id[:], key.Public().(ed25519.PublicKey))
	return id
}

// SaveKey writes the seed of key to path, readable only by its owner. With a
// passphrase the seed is sealed; otherwise it is stored hex encoded.
func SaveKey(path string, key ed25519.PrivateKey, passphrase string) error {
	contents := hex.EncodeToString(key.Seed())
	if passphrase != "" {
		sealed, err := sealSeed(key.Seed(), passphrase)
		if err != nil {
			return fmt.Errorf("seal key: %w", err)
		}
		contents = sealed
	}
	if err := os.WriteFile(path, []byte(contents+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// LoadKey reads a key file written by SaveKey. passphrase is ignored for
// unsealed files.
func LoadKey(path, passphrase string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	contents := strings.TrimSpace(string(raw))

	var seed []byte
	if isSealed(contents) {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		seed, err = openSeed(contents, passphrase)
	} else {
		seed, err = hex.DecodeString(contents)
	}
	if err != nil {
		if errors.Is(err, ErrWrongPassphrase) {
			return nil, err
		}
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("decode key file: seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
