// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const pbkdf2Iterations = 100000

// aesGCM builds the AEAD for a 16 or 32 byte key.
func aesGCM(key []byte) (cipher.AEAD, error) {
	if !validKeyLength(len(key)) {
		return nil, errInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidKeyLength, err) //nolint:errorlint
	}

	return cipher.NewGCM(block)
}

// aesGcmSeal encrypts plaintext with AES-GCM, binding aad into the tag.
// The returned slice is ciphertext followed by the 16 byte tag.
func aesGcmSeal(key, iv, aad, plaintext []byte) ([]byte, error) {
	aead, err := aesGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, errInvalidIVLength
	}

	return aead.Seal(nil, iv, plaintext, aad), nil
}

// aesGcmOpen authenticates and decrypts ciphertext||tag produced by aesGcmSeal.
func aesGcmOpen(key, iv, aad, ciphertextWithTag []byte) ([]byte, error) {
	aead, err := aesGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertextWithTag) < aead.Overhead() {
		return nil, errDataTooSmall
	}
	if len(iv) != aead.NonceSize() {
		return nil, errInvalidIVLength
	}

	plaintext, err := aead.Open(nil, iv, ciphertextWithTag, aad)
	if err != nil {
		return nil, errAuthenticationFailed
	}

	return plaintext, nil
}

// derivePBKDF2 stretches raw key material into an AES key of lengthBytes.
func derivePBKDF2(material, salt []byte, lengthBytes int) ([]byte, error) {
	if len(material) == 0 {
		return nil, errEmptyMaterial
	}
	if len(salt) == 0 {
		return nil, errEmptySalt
	}

	key := pbkdf2.Key(material, salt, pbkdf2Iterations, lengthBytes, sha256.New)
	if len(key) != lengthBytes {
		return nil, errDerivationFailed
	}

	return key, nil
}

// ratchetMaterial advances key material one deterministic one-way step.
// Sender and receiver apply the same step to converge, so this must stay
// stable across versions. Output length equals input length.
func ratchetMaterial(material, salt []byte) ([]byte, error) {
	if len(material) == 0 {
		return nil, errEmptyMaterial
	}

	reader := hkdf.New(sha256.New, material, salt, nil)
	next := make([]byte, len(material))
	if _, err := io.ReadFull(reader, next); err != nil {
		return nil, fmt.Errorf("%w: %v", errDerivationFailed, err) //nolint:errorlint
	}

	return next, nil
}
