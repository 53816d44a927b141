package selfencryption

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const ownerInfo = "xorvault/owner-wrap/v1"

// ownerOverhead is what wrapping adds to a root payload: owner tag, salt and
// the AEAD tag.
const ownerOverhead = 32 + 32 + gcmOverhead

var ErrWrongOwner = errors.New("selfencryption: owner key does not match")

// OwnerTagOf returns the hash a private root embeds for its owner key.
func OwnerTagOf(ownerPk []byte) [32]byte {
	return sha256.Sum256(ownerPk)
}

// OwnerTag extracts the embedded owner tag from a wrapped private payload.
// The second return is false if the payload is too short to be one.
func OwnerTag(payload []byte) ([32]byte, bool) {
	var tag [32]byte
	if len(payload) < ownerOverhead {
		return tag, false
	}
	copy(tag[:], payload[:32])
	return tag, true
}

// wrapRoot encrypts a root payload under the owner key. The result is
// deterministic: the salt is the hash of the payload, and key and nonce are
// derived from owner key and salt.
func wrapRoot(payload, ownerPk []byte) ([]byte, error) {
	salt := sha256.Sum256(payload)
	key, nonce, err := ownerKey(ownerPk, salt)
	if err != nil {
		return nil, err
	}
	ct, err := sealLeaf(key, nonce, payload)
	if err != nil {
		return nil, fmt.Errorf("owner wrap: %w", err)
	}

	tag := OwnerTagOf(ownerPk)
	out := make([]byte, 0, ownerOverhead+len(payload))
	out = append(out, tag[:]...)
	out = append(out, salt[:]...)
	out = append(out, ct...)
	return out, nil
}

// unwrapRoot reverses wrapRoot. ErrWrongOwner if the embedded tag does not
// match the supplied key.
func unwrapRoot(wrapped, ownerPk []byte) ([]byte, error) {
	if len(wrapped) < ownerOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedDataMap, len(wrapped))
	}
	tag := OwnerTagOf(ownerPk)
	if subtle.ConstantTimeCompare(wrapped[:32], tag[:]) != 1 {
		return nil, ErrWrongOwner
	}
	var salt [32]byte
	copy(salt[:], wrapped[32:64])
	key, nonce, err := ownerKey(ownerPk, salt)
	if err != nil {
		return nil, err
	}
	payload, err := openLeaf(key, nonce, wrapped[64:])
	if err != nil {
		return nil, fmt.Errorf("owner unwrap: %w", err)
	}
	if sha256.Sum256(payload) != salt {
		return nil, ErrIntegrityMismatch
	}
	return payload, nil
}

func ownerKey(ownerPk []byte, salt [32]byte) (key, nonce []byte, err error) {
	r := hkdf.New(sha256.New, ownerPk, salt[:], []byte(ownerInfo))
	out := make([]byte, aesKeySize+gcmNonceSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, nil, fmt.Errorf("derive owner key: %w", err)
	}
	return out[:aesKeySize], out[aesKeySize:], nil
}
