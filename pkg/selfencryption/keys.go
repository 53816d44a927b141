package selfencryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// kdfInfo pins the key schedule. Changing it breaks interop with every
// previously written blob.
const kdfInfo = "xorvault/self-encryption/v1"

const (
	aesKeySize   = 32
	gcmNonceSize = 12
	gcmOverhead  = 16
)

// leafKey derives the AES-256-GCM key and nonce for leaf i. The salt mixes
// the pre-hashes of the two preceding leaves (wrapping), so editing one leaf
// forces re-encryption of its neighbours but nothing else.
func leafKey(pre, prev1, prev2 [32]byte) (key []byte, nonce []byte, err error) {
	salt := make([]byte, 0, 64)
	salt = append(salt, prev1[:]...)
	salt = append(salt, prev2[:]...)

	r := hkdf.New(sha256.New, pre[:], salt, []byte(kdfInfo))
	out := make([]byte, aesKeySize+gcmNonceSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, nil, fmt.Errorf("derive leaf key: %w", err)
	}
	return out[:aesKeySize], out[aesKeySize:], nil
}

func sealLeaf(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func openLeaf(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}
