// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package h264 provides the minimal Annex B inspection needed to keep
// H.264 slice headers readable by depacketizers while the rest of the
// frame is encrypted: NALU scanning and RBSP emulation handling.
package h264

// NaluType is the 5-bit H.264 NAL unit type from ITU-T H.264 Table 7-1.
type NaluType uint8

// NAL unit types used when locating the first VCL unit of a frame.
const (
	NaluTypeSlice NaluType = 1
	NaluTypeIdr   NaluType = 5
	NaluTypeSei   NaluType = 6
	NaluTypeSps   NaluType = 7
	NaluTypePps   NaluType = 8
	NaluTypeAud   NaluType = 9
)

// NaluIndex locates one NAL unit within an Annex B buffer.
type NaluIndex struct {
	// Start of the start code.
	StartOffset int
	// First byte after the start code, i.e. the NAL header byte.
	PayloadStartOffset int
	// Length from the NAL header byte to the next start code or end of buffer.
	PayloadSize int
}

// FindNaluIndices scans an Annex B buffer for 3-byte (0x000001) and
// 4-byte (0x00000001) start codes and returns the located NAL units in
// order of appearance.
func FindNaluIndices(buffer []byte) []NaluIndex {
	var sequences []NaluIndex
	if len(buffer) < 3 {
		return sequences
	}

	end := len(buffer) - 3
	for i := 0; i < end; {
		switch {
		case buffer[i+2] > 1:
			i += 3
		case buffer[i+2] == 1:
			if buffer[i+1] == 0 && buffer[i] == 0 {
				index := NaluIndex{StartOffset: i, PayloadStartOffset: i + 3}
				if index.StartOffset > 0 && buffer[index.StartOffset-1] == 0 {
					index.StartOffset--
				}
				if n := len(sequences); n > 0 {
					sequences[n-1].PayloadSize = index.StartOffset - sequences[n-1].PayloadStartOffset
				}
				sequences = append(sequences, index)
			}
			i += 3
		default:
			i++
		}
	}

	if n := len(sequences); n > 0 {
		sequences[n-1].PayloadSize = len(buffer) - sequences[n-1].PayloadStartOffset
	}

	return sequences
}

// ParseNaluType extracts the NAL unit type from the NAL header byte.
func ParseNaluType(naluHeader byte) NaluType {
	return NaluType(naluHeader & 0x1F)
}
