// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import "sync"

const (
	defaultKeyRingSize = 16
	maxKeyRingSize     = 255

	// Handler id used for the shared keyring when SharedKey mode is on.
	sharedParticipantID = "shared"
)

// KeyProviderOptions configures every handler created by a KeyProvider.
// After being passed to NewKeyProvider it must not be modified.
type KeyProviderOptions struct {
	// SharedKey makes all participants resolve to keyrings primed from
	// one shared handler.
	SharedKey bool

	// RatchetSalt feeds both PBKDF2 derivation and the ratchet step.
	RatchetSalt []byte

	// RatchetWindowSize bounds how many ratchet steps a receiver tries
	// when decryption fails. Zero disables recovery ratcheting.
	RatchetWindowSize int

	// UncryptedMagicBytes, when non-empty, marks frames whose payload
	// ends with this sequence as intentionally unencrypted: the marker
	// is stripped and the frame passed through without touching keys.
	UncryptedMagicBytes []byte

	// KeyRingSize is the number of key slots per participant, at most
	// 255 since the slot index travels in a single trailer byte.
	// Defaults to 16.
	KeyRingSize int

	// DiscardFrameWhenCryptorNotReady drops frames instead of passing
	// them through untransformed while the cryptor is disabled or the
	// payload is empty.
	DiscardFrameWhenCryptorNotReady bool

	// FailureTolerance is the number of terminal decryption failures
	// tolerated before DecryptionFailure reports and the key is marked
	// invalid. Negative means never report.
	FailureTolerance int
}

// KeyProvider hands out per-participant key handlers to cryptors.
// Handlers are created through SetKey / SetSharedKey / GetSharedKey and
// shared across all cryptors for the same participant.
type KeyProvider struct {
	mu      sync.Mutex
	options KeyProviderOptions
	keys    map[string]*ParticipantKeyHandler
}

// NewKeyProvider creates a provider, applying defaults to options.
func NewKeyProvider(options KeyProviderOptions) *KeyProvider {
	if options.KeyRingSize <= 0 {
		options.KeyRingSize = defaultKeyRingSize
	} else if options.KeyRingSize > maxKeyRingSize {
		options.KeyRingSize = maxKeyRingSize
	}

	return &KeyProvider{
		options: options,
		keys:    map[string]*ParticipantKeyHandler{},
	}
}

// Options returns the option bag shared by all handlers.
func (p *KeyProvider) Options() KeyProviderOptions {
	return p.options
}

// SetKey installs key material for a participant at keyIndex, creating
// the handler if needed.
func (p *KeyProvider) SetKey(participantID string, keyIndex int, material []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.handlerLocked(participantID).SetKey(material, keyIndex)
}

// GetKey returns the handler for a participant, or nil when no key was
// ever installed for it.
func (p *KeyProvider) GetKey(participantID string) *ParticipantKeyHandler {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.keys[participantID]
}

// SetSharedKey installs material on the shared keyring and on every
// handler already handed out. It is a no-op unless SharedKey mode is on.
func (p *KeyProvider) SetSharedKey(keyIndex int, material []byte) error {
	if !p.options.SharedKey {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlerLocked(sharedParticipantID)
	for _, handler := range p.keys {
		if err := handler.SetKey(material, keyIndex); err != nil {
			return err
		}
	}

	return nil
}

// GetSharedKey returns the participant's handler in SharedKey mode,
// creating it from the shared keyring on first use so late joiners
// decrypt immediately. Returns nil when SharedKey mode is off or no
// shared key was set.
func (p *KeyProvider) GetSharedKey(participantID string) *ParticipantKeyHandler {
	if !p.options.SharedKey {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if handler, ok := p.keys[participantID]; ok {
		return handler
	}

	shared, ok := p.keys[sharedParticipantID]
	if !ok {
		return nil
	}

	cloned := shared.clone(participantID)
	p.keys[participantID] = cloned

	return cloned
}

// RatchetKey advances a participant's material at keyIndex and returns
// the new material.
func (p *KeyProvider) RatchetKey(participantID string, keyIndex int) ([]byte, error) {
	handler := p.GetKey(participantID)
	if handler == nil {
		return nil, errEmptyMaterial
	}

	return handler.RatchetKey(keyIndex)
}

// RatchetSharedKey advances the shared material at keyIndex and
// propagates it to every handler already handed out.
func (p *KeyProvider) RatchetSharedKey(keyIndex int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	shared, ok := p.keys[sharedParticipantID]
	if !ok {
		return nil, errEmptyMaterial
	}

	newMaterial, err := shared.RatchetKey(keyIndex)
	if err != nil {
		return nil, err
	}

	for id, handler := range p.keys {
		if id == sharedParticipantID {
			continue
		}
		if err := handler.SetKeyFromMaterial(newMaterial, keyIndex); err != nil {
			return nil, err
		}
	}

	return newMaterial, nil
}

// ExportKey returns the raw material installed for a participant at
// keyIndex, or nil when absent.
func (p *KeyProvider) ExportKey(participantID string, keyIndex int) []byte {
	handler := p.GetKey(participantID)
	if handler == nil {
		return nil
	}
	keySet := handler.GetKeySet(keyIndex)
	if keySet == nil {
		return nil
	}

	return keySet.Material
}

// ExportSharedKey returns the shared material at keyIndex, or nil.
func (p *KeyProvider) ExportSharedKey(keyIndex int) []byte {
	p.mu.Lock()
	shared, ok := p.keys[sharedParticipantID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	keySet := shared.GetKeySet(keyIndex)
	if keySet == nil {
		return nil
	}

	return keySet.Material
}

func (p *KeyProvider) handlerLocked(participantID string) *ParticipantKeyHandler {
	handler, ok := p.keys[participantID]
	if !ok {
		handler = newParticipantKeyHandler(participantID, p.options)
		p.keys[participantID] = handler
	}

	return handler
}
