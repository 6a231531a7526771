// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import "sync"

// KeySet pairs raw key material with the AES key derived from it.
// A KeySet is immutable after construction.
type KeySet struct {
	Material      []byte
	EncryptionKey []byte
}

// ParticipantKeyHandler owns the keyring for one participant. Several
// FrameCryptors may share a handler; all methods are safe for
// concurrent use.
type ParticipantKeyHandler struct {
	mu sync.Mutex

	participantID          string
	keyRing                []*KeySet
	currentKeyIndex        int
	hasValidKey            bool
	decryptionFailureCount int

	options KeyProviderOptions
}

func newParticipantKeyHandler(participantID string, options KeyProviderOptions) *ParticipantKeyHandler {
	if options.KeyRingSize <= 0 {
		options.KeyRingSize = defaultKeyRingSize
	}

	return &ParticipantKeyHandler{
		participantID: participantID,
		keyRing:       make([]*KeySet, options.KeyRingSize),
		options:       options,
	}
}

// DeriveKeys builds a KeySet from raw material. The encryption key is
// derived with PBKDF2-HMAC-SHA256 over the material and salt at
// lengthBits (128 or 256).
func (k *ParticipantKeyHandler) DeriveKeys(material, salt []byte, lengthBits int) (*KeySet, error) {
	encryptionKey, err := derivePBKDF2(material, salt, lengthBits/8)
	if err != nil {
		return nil, err
	}

	materialCopy := make([]byte, len(material))
	copy(materialCopy, material)

	return &KeySet{Material: materialCopy, EncryptionKey: encryptionKey}, nil
}

// SetKey installs new key material at keyIndex, resets the failure
// counter and marks the handler valid.
func (k *ParticipantKeyHandler) SetKey(material []byte, keyIndex int) error {
	if err := k.SetKeyFromMaterial(material, keyIndex); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.decryptionFailureCount = 0
	k.hasValidKey = true

	return nil
}

// SetKeyFromMaterial installs key material at keyIndex without touching
// the failure state. A negative keyIndex reuses the current index. The
// installed slot becomes the current index.
func (k *ParticipantKeyHandler) SetKeyFromMaterial(material []byte, keyIndex int) error {
	keySet, err := k.DeriveKeys(material, k.options.RatchetSalt, 128)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if keyIndex >= 0 {
		k.currentKeyIndex = keyIndex % len(k.keyRing)
	}
	k.keyRing[k.currentKeyIndex] = keySet

	return nil
}

// GetKeySet returns the KeySet at keyIndex, the current KeySet for a
// negative index, or nil when the index is out of range or the slot is
// empty.
func (k *ParticipantKeyHandler) GetKeySet(keyIndex int) *KeySet {
	k.mu.Lock()
	defer k.mu.Unlock()

	idx := keyIndex
	if idx < 0 {
		idx = k.currentKeyIndex
	}
	if idx >= len(k.keyRing) {
		return nil
	}

	return k.keyRing[idx]
}

// RatchetKeyMaterial advances material one deterministic step using the
// handler's ratchet salt. It does not install the result.
func (k *ParticipantKeyHandler) RatchetKeyMaterial(currentMaterial []byte) ([]byte, error) {
	return ratchetMaterial(currentMaterial, k.options.RatchetSalt)
}

// RatchetKey advances the material stored at keyIndex and reinstalls it,
// returning the new material.
func (k *ParticipantKeyHandler) RatchetKey(keyIndex int) ([]byte, error) {
	keySet := k.GetKeySet(keyIndex)
	if keySet == nil {
		return nil, errEmptyMaterial
	}

	newMaterial, err := k.RatchetKeyMaterial(keySet.Material)
	if err != nil {
		return nil, err
	}
	if err := k.SetKeyFromMaterial(newMaterial, keyIndex); err != nil {
		return nil, err
	}

	return newMaterial, nil
}

// HasValidKey reports whether the handler's key is considered valid.
// SetKey and SetHasValidKey set it; DecryptionFailure clears it once the
// failure count exceeds the tolerance.
func (k *ParticipantKeyHandler) HasValidKey() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.hasValidKey
}

// SetHasValidKey marks the handler valid and resets the failure counter.
func (k *ParticipantKeyHandler) SetHasValidKey() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.decryptionFailureCount = 0
	k.hasValidKey = true
}

// DecryptionFailure records one terminal decryption failure. It reports
// true once the failure count exceeds the provider's tolerance, at which
// point the key is no longer considered valid. A negative tolerance
// never reports.
func (k *ParticipantKeyHandler) DecryptionFailure() bool {
	if k.options.FailureTolerance < 0 {
		return false
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.decryptionFailureCount++
	if k.decryptionFailureCount > k.options.FailureTolerance {
		k.hasValidKey = false

		return true
	}

	return false
}

// clone duplicates the handler for a new participant sharing the same
// key state. KeySets are immutable and shared.
func (k *ParticipantKeyHandler) clone(participantID string) *ParticipantKeyHandler {
	k.mu.Lock()
	defer k.mu.Unlock()

	cloned := newParticipantKeyHandler(participantID, k.options)
	copy(cloned.keyRing, k.keyRing)
	cloned.currentKeyIndex = k.currentKeyIndex
	cloned.hasValidKey = k.hasValidKey

	return cloned
}
