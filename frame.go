// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package framecrypt implements end-to-end encryption for encoded media
// frames. A FrameCryptor sits between a WebRTC-style transport and the
// codec layer, encrypting outbound frames and decrypting inbound ones
// with per-participant keys while leaving a codec-dependent prefix in
// clear so depacketizers and middleboxes keep working.
package framecrypt

import (
	"fmt"

	"github.com/pion/framecrypt/internal/h264"
)

// Direction tells the cryptor whether a frame is outbound or inbound.
type Direction int

// Frame directions.
const (
	DirectionUnknown Direction = iota
	DirectionSender
	DirectionReceiver
)

// MediaType selects the audio or video handling of a FrameCryptor.
type MediaType int

// Media types.
const (
	MediaTypeAudio MediaType = iota
	MediaTypeVideo
)

// VideoCodec identifies the codec of an encoded video frame.
type VideoCodec int

// Video codecs with codec-aware prefix handling. Codecs not listed here
// are encrypted in full.
const (
	VideoCodecVP8 VideoCodec = iota
	VideoCodecVP9
	VideoCodecH264
	VideoCodecAV1
)

// H264PacketizationMode mirrors the RTP packetization mode signalled for
// an H.264 track.
type H264PacketizationMode int

// H.264 packetization modes.
const (
	H264PacketizationModeNonInterleaved H264PacketizationMode = iota
	H264PacketizationModeSingleNalUnit
)

// Frame is an encoded media frame owned by the cryptor from the moment
// it is passed to Transform until it is delivered to a sink or dropped.
type Frame interface {
	Direction() Direction
	SSRC() uint32
	Timestamp() uint32

	// Data returns a read view of the payload. The cryptor does not
	// mutate the returned slice; it installs transformed payloads via
	// SetData.
	Data() []byte
	SetData([]byte)
}

// VideoFrame extends Frame with the codec metadata video prefix
// computation needs.
type VideoFrame interface {
	Frame

	Codec() VideoCodec
	IsKeyFrame() bool
	PacketizationMode() H264PacketizationMode
}

// FrameSink receives frames once the cryptor has finished with them.
type FrameSink interface {
	OnTransformedFrame(frame Frame)
}

// Transformer consumes owned frames pushed by the transport.
type Transformer interface {
	Transform(frame Frame)
}

// FrameCryptionState describes the outcome of the most recent encrypt or
// decrypt attempt. Observers are notified on transitions only.
type FrameCryptionState int

// Cryption states.
const (
	FrameCryptionStateOk FrameCryptionState = iota
	FrameCryptionStateEncryptionFailed
	FrameCryptionStateDecryptionFailed
	FrameCryptionStateMissingKey
	FrameCryptionStateKeyRatcheted
	FrameCryptionStateInternalError
)

func (s FrameCryptionState) String() string {
	switch s {
	case FrameCryptionStateOk:
		return "Ok"
	case FrameCryptionStateEncryptionFailed:
		return "EncryptionFailed"
	case FrameCryptionStateDecryptionFailed:
		return "DecryptionFailed"
	case FrameCryptionStateMissingKey:
		return "MissingKey"
	case FrameCryptionStateKeyRatcheted:
		return "KeyRatcheted"
	case FrameCryptionStateInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("FrameCryptionState(%d)", int(s))
	}
}

// FrameCryptionStateObserver is notified, on the signaling executor, each
// time a cryptor's state changes for either direction.
type FrameCryptionStateObserver interface {
	OnFrameCryptionStateChanged(participantID string, state FrameCryptionState)
}

// frameIsH264 reports whether the frame carries H.264 and therefore
// needs RBSP emulation handling around the encrypted region.
func frameIsH264(frame Frame, mediaType MediaType) bool {
	if mediaType != MediaTypeVideo {
		return false
	}
	videoFrame, ok := frame.(VideoFrame)

	return ok && videoFrame.Codec() == VideoCodecH264
}

// unencryptedBytes computes the codec-dependent prefix that stays in
// clear and is authenticated as additional data.
//
// Audio frames keep 1 byte. VP8 keeps the 10 byte key frame header or
// the 3 byte interframe header. AV1 is encrypted in full (the OBU layer
// carries no depacketizer-critical plaintext). For H.264 the prefix runs
// through the first VCL NAL header plus one slice header byte, so NALU
// boundaries and slice types survive encryption.
func unencryptedBytes(frame Frame, mediaType MediaType) int {
	if mediaType == MediaTypeAudio {
		return 1
	}

	videoFrame, ok := frame.(VideoFrame)
	if !ok {
		return 0
	}

	switch videoFrame.Codec() {
	case VideoCodecAV1:
		return 0
	case VideoCodecVP8:
		if videoFrame.IsKeyFrame() {
			return 10
		}

		return 3
	case VideoCodecH264:
		data := frame.Data()
		for _, index := range h264.FindNaluIndices(data) {
			switch h264.ParseNaluType(data[index.PayloadStartOffset]) {
			case h264.NaluTypeIdr, h264.NaluTypeSlice:
				return index.PayloadStartOffset + 2
			default:
			}
		}

		return 0
	default:
		return 0
	}
}
