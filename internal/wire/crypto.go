package wire

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// NaClKeyPair is an ephemeral per-session NaCl box keypair.
type NaClKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateNaClKeyPair creates a fresh session keypair.
func GenerateNaClKeyPair() (NaClKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return NaClKeyPair{}, fmt.Errorf("generate nacl keypair: %w", err)
	}
	return NaClKeyPair{Public: *pub, Private: *priv}, nil
}

// Encrypt NaCl-boxes plaintext for peerPub using ourPriv, then base64
// encodes the result so it can be embedded as a single payload argument.
func Encrypt(plaintext []byte, peerPub, ourPriv *[32]byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("nacl nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, peerPub, ourPriv)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt: base64-decodes, splits off the leading 24-byte
// nonce, and opens the box.
func Decrypt(encoded string, peerPub, ourPriv *[32]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("nacl base64 decode: %w", err)
	}
	if len(raw) < 24+box.Overhead {
		return nil, fmt.Errorf("nacl ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := box.Open(nil, raw[24:], &nonce, peerPub, ourPriv)
	if !ok {
		return nil, fmt.Errorf("nacl decrypt: authentication failed")
	}
	return plaintext, nil
}
