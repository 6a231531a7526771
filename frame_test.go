// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnencryptedBytes(t *testing.T) {
	t.Run("Audio", func(t *testing.T) {
		frame := &testFrame{data: []byte{0x01, 0x02}}
		assert.Equal(t, 1, unencryptedBytes(frame, MediaTypeAudio))
	})

	t.Run("VP8", func(t *testing.T) {
		key := &testVideoFrame{codec: VideoCodecVP8, keyFrame: true}
		assert.Equal(t, 10, unencryptedBytes(key, MediaTypeVideo))

		inter := &testVideoFrame{codec: VideoCodecVP8}
		assert.Equal(t, 3, unencryptedBytes(inter, MediaTypeVideo))
	})

	t.Run("AV1", func(t *testing.T) {
		frame := &testVideoFrame{codec: VideoCodecAV1, keyFrame: true}
		assert.Equal(t, 0, unencryptedBytes(frame, MediaTypeVideo))
	})

	t.Run("VP9", func(t *testing.T) {
		frame := &testVideoFrame{codec: VideoCodecVP9}
		assert.Equal(t, 0, unencryptedBytes(frame, MediaTypeVideo))
	})

	t.Run("H264IDR", func(t *testing.T) {
		frame := &testVideoFrame{
			testFrame: testFrame{data: []byte{
				0x00, 0x00, 0x00, 0x01, 0x67, 0x42, // SPS, skipped
				0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, // IDR slice
			}},
			codec: VideoCodecH264,
		}
		assert.Equal(t, 12, unencryptedBytes(frame, MediaTypeVideo))
	})

	t.Run("H264NonIDRSlice", func(t *testing.T) {
		frame := &testVideoFrame{
			testFrame: testFrame{data: []byte{0x00, 0x00, 0x01, 0x41, 0x9A, 0x00}},
			codec:     VideoCodecH264,
		}
		assert.Equal(t, 5, unencryptedBytes(frame, MediaTypeVideo))
	})

	t.Run("H264NoVCL", func(t *testing.T) {
		frame := &testVideoFrame{
			testFrame: testFrame{data: []byte{0x00, 0x00, 0x01, 0x67, 0x42, 0x00}},
			codec:     VideoCodecH264,
		}
		assert.Equal(t, 0, unencryptedBytes(frame, MediaTypeVideo))
	})

	t.Run("VideoWithoutMetadata", func(t *testing.T) {
		frame := &testFrame{data: []byte{0x01}}
		assert.Equal(t, 0, unencryptedBytes(frame, MediaTypeVideo))
	})
}

func TestFrameIsH264(t *testing.T) {
	h264Frame := &testVideoFrame{codec: VideoCodecH264}
	assert.True(t, frameIsH264(h264Frame, MediaTypeVideo))
	assert.False(t, frameIsH264(h264Frame, MediaTypeAudio))
	assert.False(t, frameIsH264(&testVideoFrame{codec: VideoCodecVP8}, MediaTypeVideo))
	assert.False(t, frameIsH264(&testFrame{}, MediaTypeVideo))
}

func TestFrameCryptionStateString(t *testing.T) {
	assert.Equal(t, "Ok", FrameCryptionStateOk.String())
	assert.Equal(t, "EncryptionFailed", FrameCryptionStateEncryptionFailed.String())
	assert.Equal(t, "DecryptionFailed", FrameCryptionStateDecryptionFailed.String())
	assert.Equal(t, "MissingKey", FrameCryptionStateMissingKey.String())
	assert.Equal(t, "KeyRatcheted", FrameCryptionStateKeyRatcheted.String())
	assert.Equal(t, "InternalError", FrameCryptionStateInternalError.String())
}
