// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindNaluIndices(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, FindNaluIndices(nil))
		assert.Empty(t, FindNaluIndices([]byte{0x00, 0x00}))
	})

	t.Run("ShortStartCode", func(t *testing.T) {
		data := []byte{0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
		indices := FindNaluIndices(data)
		assert.Len(t, indices, 1)
		assert.Equal(t, 0, indices[0].StartOffset)
		assert.Equal(t, 3, indices[0].PayloadStartOffset)
		assert.Equal(t, 3, indices[0].PayloadSize)
	})

	t.Run("LongStartCode", func(t *testing.T) {
		data := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00}
		indices := FindNaluIndices(data)
		assert.Len(t, indices, 1)
		assert.Equal(t, 0, indices[0].StartOffset)
		assert.Equal(t, 4, indices[0].PayloadStartOffset)
		assert.Equal(t, 3, indices[0].PayloadSize)
	})

	t.Run("MultipleNalus", func(t *testing.T) {
		data := []byte{
			0x00, 0x00, 0x00, 0x01, 0x67, 0x42, // SPS
			0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, // PPS
			0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, // IDR
		}
		indices := FindNaluIndices(data)
		assert.Len(t, indices, 3)

		assert.Equal(t, 4, indices[0].PayloadStartOffset)
		assert.Equal(t, 2, indices[0].PayloadSize)
		assert.Equal(t, 10, indices[1].PayloadStartOffset)
		assert.Equal(t, 2, indices[1].PayloadSize)
		assert.Equal(t, 15, indices[2].PayloadStartOffset)
		assert.Equal(t, 4, indices[2].PayloadSize)
	})
}

func TestParseNaluType(t *testing.T) {
	assert.Equal(t, NaluTypeIdr, ParseNaluType(0x65))
	assert.Equal(t, NaluTypeSlice, ParseNaluType(0x41))
	assert.Equal(t, NaluTypeSps, ParseNaluType(0x67))
	assert.Equal(t, NaluTypePps, ParseNaluType(0x68))
	assert.Equal(t, NaluTypeSei, ParseNaluType(0x06))
	assert.Equal(t, NaluTypeAud, ParseNaluType(0x09))
}

func TestWriteRbsp(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   []byte
		out  []byte
	}{
		{"NoEscape", []byte{0x01, 0x02, 0x03}, []byte{0x01, 0x02, 0x03}},
		{"TwoZerosThenZero", []byte{0x00, 0x00, 0x00}, []byte{0x00, 0x00, 0x03, 0x00}},
		{"TwoZerosThenOne", []byte{0x00, 0x00, 0x01}, []byte{0x00, 0x00, 0x03, 0x01}},
		{"TwoZerosThenThree", []byte{0x00, 0x00, 0x03}, []byte{0x00, 0x00, 0x03, 0x03}},
		{"TwoZerosThenFour", []byte{0x00, 0x00, 0x04}, []byte{0x00, 0x00, 0x04}},
		{"LongZeroRun", []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0xFF}, []byte{0xFF, 0x00, 0x00, 0x03, 0x00, 0x00, 0xFF}},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.out, WriteRbsp(tc.in))
		})
	}
}

func TestParseRbsp(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, ParseRbsp([]byte{0x00, 0x00, 0x03, 0x00}))
	assert.Equal(t, []byte{0x00, 0x00, 0x01}, ParseRbsp([]byte{0x00, 0x00, 0x03, 0x01}))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, ParseRbsp([]byte{0x01, 0x02, 0x03}))
}

func TestRbspRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x00, 0x00, 0x03},
		{0xDE, 0xAD, 0x00, 0x00, 0x01, 0xBE, 0xEF},
		{0x00, 0x00, 0x02, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00},
	}
	for _, in := range inputs {
		assert.Equal(t, in, ParseRbsp(WriteRbsp(in)))
	}
}

func TestNeedsRbspUnescaping(t *testing.T) {
	assert.True(t, NeedsRbspUnescaping([]byte{0x00, 0x00, 0x03, 0x00}))
	assert.True(t, NeedsRbspUnescaping([]byte{0xFF, 0x00, 0x00, 0x03, 0x01}))
	assert.False(t, NeedsRbspUnescaping([]byte{0x00, 0x00, 0x04, 0x00}))
	// The scan stops three bytes before the end, so a trailing sequence
	// is not detected.
	assert.False(t, NeedsRbspUnescaping([]byte{0x00, 0x00, 0x03}))
}
