// internal/identity/passphrase.go
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "argon2id"

var (
	ErrPassphraseRequired = errors.New("key file is passphrase protected")
	ErrWrongPassphrase    = errors.New("wrong passphrase or corrupted key file")
)

// deriveKey stretches passphrase into an AEAD key with Argon2id.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// sealSeed encrypts seed under passphrase as "argon2id:salt:nonce:ciphertext",
// each part base64 encoded.
func sealSeed(seed []byte, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, seed, []byte(sealedPrefix))

	return strings.Join([]string{
		sealedPrefix,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(sealed),
	}, ":"), nil
}

func isSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix+":")
}

// openSeed reverses sealSeed.
func openSeed(s, passphrase string) ([]byte, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != sealedPrefix {
		return nil, fmt.Errorf("decode key file: malformed sealed key")
	}
	var raw [3][]byte
	for i, part := range parts[1:] {
		b, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		raw[i] = b
	}
	salt, nonce, sealed := raw[0], raw[1], raw[2]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("decode key file: nonce is %d bytes", len(nonce))
	}
	seed, err := aead.Open(nil, nonce, sealed, []byte(sealedPrefix))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return seed, nil
}
