// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/pion/framecrypt/internal/h264"
	"github.com/pion/logging"
)

// FrameCryptor encrypts sender frames and decrypts receiver frames for
// one media track. Transform only captures the frame and posts it to
// the cryptor's serial worker, so frames are processed in arrival order
// without blocking the transport.
type FrameCryptor struct {
	mediaType   MediaType
	algorithm   Algorithm
	keyProvider *KeyProvider

	// mu guards the fields below. Sink registration additionally holds
	// sinkMu so Transform can check sink presence without taking mu.
	mu            sync.Mutex
	enabled       bool
	keyIndex      uint8
	participantID string
	sink          FrameSink
	videoSinks    map[uint32]FrameSink
	observer      FrameCryptionStateObserver
	lastEncState  FrameCryptionState
	lastDecState  FrameCryptionState
	closed        bool

	sinkMu sync.Mutex

	worker        *taskQueue
	signaling     SignalingExecutor
	ownsSignaling bool

	// sendCounts is touched on the worker only.
	sendCounts map[uint32]uint32

	log logging.LeveledLogger
}

// FrameCryptorOption configures a FrameCryptor at construction.
type FrameCryptorOption func(*FrameCryptor)

// WithAlgorithm selects the AEAD. The default is AlgorithmAesGcm.
func WithAlgorithm(algorithm Algorithm) FrameCryptorOption {
	return func(c *FrameCryptor) { c.algorithm = algorithm }
}

// WithSignalingExecutor supplies the executor observer callbacks run on.
// By default the cryptor owns a private serial executor.
func WithSignalingExecutor(executor SignalingExecutor) FrameCryptorOption {
	return func(c *FrameCryptor) {
		c.signaling = executor
		c.ownsSignaling = false
	}
}

// WithLoggerFactory overrides the default logger factory.
func WithLoggerFactory(factory logging.LoggerFactory) FrameCryptorOption {
	return func(c *FrameCryptor) { c.log = factory.NewLogger("framecrypt") }
}

// NewFrameCryptor creates a cryptor for one participant and media type.
// Cryption starts disabled; frames pass through untransformed until
// SetEnabled(true) unless the provider discards not-ready frames.
func NewFrameCryptor(participantID string, mediaType MediaType, keyProvider *KeyProvider, opts ...FrameCryptorOption) (*FrameCryptor, error) {
	if keyProvider == nil {
		return nil, errNoKeyProvider
	}

	cryptor := &FrameCryptor{
		mediaType:     mediaType,
		algorithm:     AlgorithmAesGcm,
		keyProvider:   keyProvider,
		participantID: participantID,
		videoSinks:    map[uint32]FrameSink{},
		worker:        newTaskQueue(),
		ownsSignaling: true,
		sendCounts:    map[uint32]uint32{},
		log:           logging.NewDefaultLoggerFactory().NewLogger("framecrypt"),
	}
	for _, opt := range opts {
		opt(cryptor)
	}
	if cryptor.algorithm.ivSize() == 0 {
		cryptor.worker.Close()

		return nil, errUnsupportedAlgorithm
	}
	if cryptor.signaling == nil {
		cryptor.signaling = newTaskQueue()
	}

	return cryptor, nil
}

// Close stops the worker. Pending frames are released without delivery
// and no frame reaches a sink once Close has begun.
func (c *FrameCryptor) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return errCryptorClosed
	}

	c.worker.Close()
	if c.ownsSignaling {
		if q, ok := c.signaling.(*taskQueue); ok {
			q.Close()
		}
	}

	return nil
}

// SetEnabled turns cryption on or off.
func (c *FrameCryptor) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether cryption is on.
func (c *FrameCryptor) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enabled
}

// SetKeyIndex selects the keyring slot used to encrypt.
func (c *FrameCryptor) SetKeyIndex(keyIndex uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyIndex = keyIndex
}

// KeyIndex returns the keyring slot used to encrypt.
func (c *FrameCryptor) KeyIndex() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.keyIndex
}

// SetParticipantID rebinds the cryptor to another participant's keys.
func (c *FrameCryptor) SetParticipantID(participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantID = participantID
}

// ParticipantID returns the participant the cryptor resolves keys for.
func (c *FrameCryptor) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.participantID
}

// SetObserver installs the state observer. Callbacks run on the
// signaling executor and fire on state transitions only.
func (c *FrameCryptor) SetObserver(observer FrameCryptionStateObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = observer
}

// RegisterSink installs the single sink used for audio frames.
func (c *FrameCryptor) RegisterSink(sink FrameSink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// UnregisterSink removes the audio sink.
func (c *FrameCryptor) UnregisterSink() {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = nil
}

// RegisterSinkForSSRC installs the sink for one video stream.
func (c *FrameCryptor) RegisterSinkForSSRC(ssrc uint32, sink FrameSink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoSinks[ssrc] = sink
}

// UnregisterSinkForSSRC removes the sink for one video stream.
func (c *FrameCryptor) UnregisterSinkForSSRC(ssrc uint32) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.videoSinks, ssrc)
}

// Transform takes ownership of a frame and schedules it for encryption
// or decryption according to its direction. Frames with an unknown
// direction, or arriving while no sink is registered, are dropped.
func (c *FrameCryptor) Transform(frame Frame) {
	c.sinkMu.Lock()
	noSink := c.sink == nil && len(c.videoSinks) == 0
	c.sinkMu.Unlock()
	if noSink {
		c.log.Warnf("Transform: no sink registered, dropping frame ssrc=%d", frame.SSRC())

		return
	}

	switch frame.Direction() {
	case DirectionSender:
		c.worker.Post(func() { c.encryptFrame(frame) })
	case DirectionReceiver:
		c.worker.Post(func() { c.decryptFrame(frame) })
	case DirectionUnknown:
		c.log.Infof("Transform: unknown direction, dropping frame ssrc=%d", frame.SSRC())
	}
}

type cryptorSnapshot struct {
	enabled       bool
	sink          FrameSink
	keyIndex      uint8
	participantID string
}

func (c *FrameCryptor) snapshot(ssrc uint32) cryptorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	sink := c.sink
	if c.mediaType == MediaTypeVideo {
		sink = c.videoSinks[ssrc]
	}

	return cryptorSnapshot{
		enabled:       c.enabled,
		sink:          sink,
		keyIndex:      c.keyIndex,
		participantID: c.participantID,
	}
}

func (c *FrameCryptor) keyHandler(participantID string) *ParticipantKeyHandler {
	if c.keyProvider.Options().SharedKey {
		return c.keyProvider.GetSharedKey(participantID)
	}

	return c.keyProvider.GetKey(participantID)
}

// updateState records a state for one direction and notifies the
// observer on the transition only.
func (c *FrameCryptor) updateState(last *FrameCryptionState, state FrameCryptionState) {
	c.mu.Lock()
	if *last == state {
		c.mu.Unlock()

		return
	}
	*last = state
	observer := c.observer
	participantID := c.participantID
	c.mu.Unlock()

	if observer == nil {
		return
	}
	c.signaling.Post(func() {
		observer.OnFrameCryptionStateChanged(participantID, state)
	})
}

func (c *FrameCryptor) deliver(sink FrameSink, frame Frame) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	sink.OnTransformedFrame(frame)
}

func (c *FrameCryptor) encryptFrame(frame Frame) { //nolint:cyclop
	snap := c.snapshot(frame.SSRC())
	if snap.sink == nil {
		c.log.Warnf("encryptFrame: no sink for ssrc=%d", frame.SSRC())
		c.updateState(&c.lastEncState, FrameCryptionStateInternalError)

		return
	}

	data := frame.Data()
	if len(data) == 0 || !snap.enabled {
		if c.keyProvider.Options().DiscardFrameWhenCryptorNotReady {
			return
		}
		c.deliver(snap.sink, frame)

		return
	}

	handler := c.keyHandler(snap.participantID)
	var keySet *KeySet
	if handler != nil {
		keySet = handler.GetKeySet(int(snap.keyIndex))
	}
	if keySet == nil {
		c.log.Infof("encryptFrame: no key at key_index=%d for participant %s",
			snap.keyIndex, snap.participantID)
		c.updateState(&c.lastEncState, FrameCryptionStateMissingKey)

		return
	}

	prefixLen := unencryptedBytes(frame, c.mediaType)
	if prefixLen > len(data) {
		prefixLen = len(data)
	}
	header := make([]byte, prefixLen)
	copy(header, data[:prefixLen])

	iv, err := c.makeIV(frame.SSRC(), frame.Timestamp())
	if err != nil {
		c.log.Errorf("encryptFrame: iv generation failed: %v", err)
		c.updateState(&c.lastEncState, FrameCryptionStateEncryptionFailed)

		return
	}

	ciphertext, err := aesGcmSeal(keySet.EncryptionKey, iv, header, data[prefixLen:])
	if err != nil {
		c.log.Errorf("encryptFrame: %v", err)
		c.updateState(&c.lastEncState, FrameCryptionStateEncryptionFailed)

		return
	}

	suffix := make([]byte, 0, len(ciphertext)+len(iv)+frameTrailerSize)
	suffix = append(suffix, ciphertext...)
	suffix = append(suffix, iv...)
	suffix = append(suffix, byte(len(iv)), snap.keyIndex)
	if frameIsH264(frame, c.mediaType) {
		suffix = h264.WriteRbsp(suffix)
	}

	out := make([]byte, 0, prefixLen+len(suffix))
	out = append(out, header...)
	out = append(out, suffix...)
	frame.SetData(out)

	c.updateState(&c.lastEncState, FrameCryptionStateOk)
	c.deliver(snap.sink, frame)
}

func (c *FrameCryptor) decryptFrame(frame Frame) { //nolint:cyclop,gocognit
	snap := c.snapshot(frame.SSRC())
	if snap.sink == nil {
		c.log.Warnf("decryptFrame: no sink for ssrc=%d", frame.SSRC())
		c.updateState(&c.lastDecState, FrameCryptionStateInternalError)

		return
	}

	data := frame.Data()
	if len(data) == 0 || !snap.enabled {
		if c.keyProvider.Options().DiscardFrameWhenCryptorNotReady {
			return
		}
		c.deliver(snap.sink, frame)

		return
	}

	options := c.keyProvider.Options()

	// Frames tagged with the magic bytes were never encrypted. Strip the
	// marker and pass through without consulting any key.
	if magic := options.UncryptedMagicBytes; len(magic) > 0 && len(data) >= len(magic) {
		if bytes.Equal(data[len(data)-len(magic):], magic) {
			c.log.Debugf("decryptFrame: magic bytes on ssrc=%d, passing through", frame.SSRC())
			out := make([]byte, len(data)-len(magic))
			copy(out, data)
			frame.SetData(out)
			c.deliver(snap.sink, frame)

			return
		}
	}

	prefixLen := unencryptedBytes(frame, c.mediaType)
	if len(data) < prefixLen+frameTrailerSize {
		c.log.Warnf("decryptFrame: frame too short on ssrc=%d", frame.SSRC())
		c.updateState(&c.lastDecState, FrameCryptionStateDecryptionFailed)

		return
	}

	ivLen := int(data[len(data)-2])
	keyIndex := data[len(data)-1]
	if ivLen != c.algorithm.ivSize() {
		c.log.Warnf("decryptFrame: iv length %d does not match algorithm %v", ivLen, c.algorithm)
		c.updateState(&c.lastDecState, FrameCryptionStateDecryptionFailed)

		return
	}

	handler := c.keyHandler(snap.participantID)
	var keySet *KeySet
	if int(keyIndex) < options.KeyRingSize && handler != nil {
		keySet = handler.GetKeySet(int(keyIndex))
	}
	if keySet == nil {
		c.log.Infof("decryptFrame: no key at key_index=%d for participant %s",
			keyIndex, snap.participantID)
		c.updateState(&c.lastDecState, FrameCryptionStateMissingKey)

		return
	}

	c.mu.Lock()
	lastDecState := c.lastDecState
	c.mu.Unlock()
	if lastDecState == FrameCryptionStateDecryptionFailed && !handler.HasValidKey() {
		// Still failing with no replacement key installed. Ratcheting
		// again would walk the ring past the sender's material.
		return
	}

	ivStart := len(data) - frameTrailerSize - ivLen
	if ivStart < prefixLen {
		c.updateState(&c.lastDecState, FrameCryptionStateDecryptionFailed)

		return
	}
	iv := make([]byte, ivLen)
	copy(iv, data[ivStart:len(data)-frameTrailerSize])

	header := make([]byte, prefixLen)
	copy(header, data[:prefixLen])

	// The IV and trailer positions above are read before unescaping;
	// the sender escaped the whole post-prefix region, so the
	// ciphertext boundary is recomputed from the unescaped length.
	body := make([]byte, len(data)-prefixLen)
	copy(body, data[prefixLen:])
	if frameIsH264(frame, c.mediaType) && h264.NeedsRbspUnescaping(body) {
		body = h264.ParseRbsp(body)
	}
	if len(body) < ivLen+frameTrailerSize+c.algorithm.tagSize() {
		c.updateState(&c.lastDecState, FrameCryptionStateDecryptionFailed)

		return
	}
	ciphertextWithTag := body[:len(body)-ivLen-frameTrailerSize]

	plaintext, err := aesGcmOpen(keySet.EncryptionKey, iv, header, ciphertextWithTag)
	if err == nil {
		out := make([]byte, 0, prefixLen+len(plaintext))
		out = append(out, header...)
		out = append(out, plaintext...)
		frame.SetData(out)
		c.updateState(&c.lastDecState, FrameCryptionStateOk)
		c.deliver(snap.sink, frame)

		return
	}
	c.log.Warnf("decryptFrame: %v on ssrc=%d key_index=%d", err, frame.SSRC(), keyIndex)

	ratcheted := false
	attempts := 0
	if options.RatchetWindowSize > 0 {
		// The sender may have ratcheted ahead of us. Walk forward up to
		// the window; install the material that decrypts this frame.
		initialMaterial := keySet.Material
		currentMaterial := initialMaterial
		for attempts < options.RatchetWindowSize {
			attempts++
			c.log.Debugf("decryptFrame: ratcheting key, attempt %d of %d",
				attempts, options.RatchetWindowSize)

			newMaterial, ratchetErr := handler.RatchetKeyMaterial(currentMaterial)
			if ratchetErr != nil {
				break
			}
			ratchetedKeySet, ratchetErr := handler.DeriveKeys(newMaterial, options.RatchetSalt, 128)
			if ratchetErr != nil {
				break
			}

			plaintext, ratchetErr = aesGcmOpen(ratchetedKeySet.EncryptionKey, iv, header, ciphertextWithTag)
			if ratchetErr == nil {
				if err := handler.SetKeyFromMaterial(newMaterial, int(keyIndex)); err != nil {
					break
				}
				handler.SetHasValidKey()
				c.updateState(&c.lastDecState, FrameCryptionStateKeyRatcheted)
				ratcheted = true

				break
			}
			currentMaterial = newMaterial
		}

		if !ratcheted {
			// The frame may simply predate the keys we hold, e.g. it was
			// sent before the announced key was put to use. Restore the
			// original material so ratchet guesses do not replace it.
			if err := handler.SetKeyFromMaterial(initialMaterial, int(keyIndex)); err != nil {
				c.log.Errorf("decryptFrame: key rollback failed: %v", err)
			}
		}
	}

	if !ratcheted {
		c.log.Warnf("decryptFrame: %v", &errorRatchetExhausted{
			ParticipantID: snap.participantID,
			KeyIndex:      keyIndex,
			Attempts:      attempts,
		})
		if handler.DecryptionFailure() {
			c.updateState(&c.lastDecState, FrameCryptionStateDecryptionFailed)
		}

		return
	}

	out := make([]byte, 0, prefixLen+len(plaintext))
	out = append(out, header...)
	out = append(out, plaintext...)
	frame.SetData(out)

	// State stays KeyRatcheted; the next clean decrypt reports Ok.
	c.deliver(snap.sink, frame)
}

const frameTrailerSize = 2

// makeIV builds the 12 byte nonce for one outbound frame: SSRC and
// timestamp in big endian, then the timestamp offset by the low 16 bits
// of the per-SSRC send counter. The counter is seeded from the CSPRNG on
// first use and incremented per frame, so IVs stay unique per stream
// even when timestamps repeat.
func (c *FrameCryptor) makeIV(ssrc, timestamp uint32) ([]byte, error) {
	count, ok := c.sendCounts[ssrc]
	if !ok {
		var seed [2]byte
		if _, err := rand.Read(seed[:]); err != nil {
			return nil, err
		}
		count = uint32(binary.BigEndian.Uint16(seed[:]))
	}

	iv := make([]byte, c.algorithm.ivSize())
	binary.BigEndian.PutUint32(iv[0:], ssrc)
	binary.BigEndian.PutUint32(iv[4:], timestamp)
	binary.BigEndian.PutUint32(iv[8:], timestamp-(count%0x10000))
	c.sendCounts[ssrc] = count + 1

	return iv, nil
}
