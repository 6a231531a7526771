// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import "github.com/pion/rtp"

// PacketFrame adapts an rtp.Packet to the Frame contract so a
// FrameCryptor can ride a pion RTP pipeline. The payload is transformed
// in place on the packet; the header is never touched.
type PacketFrame struct {
	packet    *rtp.Packet
	direction Direction
}

// NewPacketFrame wraps an RTP packet as a frame travelling in the given
// direction. The cryptor owns the packet until the frame is delivered.
func NewPacketFrame(packet *rtp.Packet, direction Direction) *PacketFrame {
	return &PacketFrame{packet: packet, direction: direction}
}

// Direction returns the direction given at construction.
func (f *PacketFrame) Direction() Direction { return f.direction }

// SSRC returns the packet's synchronization source.
func (f *PacketFrame) SSRC() uint32 { return f.packet.SSRC }

// Timestamp returns the packet's RTP timestamp.
func (f *PacketFrame) Timestamp() uint32 { return f.packet.Timestamp }

// Data returns the packet payload.
func (f *PacketFrame) Data() []byte { return f.packet.Payload }

// SetData replaces the packet payload.
func (f *PacketFrame) SetData(data []byte) { f.packet.Payload = data }

// Packet returns the underlying RTP packet.
func (f *PacketFrame) Packet() *rtp.Packet { return f.packet }

// VideoPacketFrame is a PacketFrame carrying the codec metadata video
// prefix computation needs.
type VideoPacketFrame struct {
	PacketFrame

	codec    VideoCodec
	keyFrame bool
	packMode H264PacketizationMode
}

// NewVideoPacketFrame wraps an RTP packet holding one encoded video
// frame.
func NewVideoPacketFrame(
	packet *rtp.Packet,
	direction Direction,
	codec VideoCodec,
	keyFrame bool,
	packMode H264PacketizationMode,
) *VideoPacketFrame {
	return &VideoPacketFrame{
		PacketFrame: PacketFrame{packet: packet, direction: direction},
		codec:       codec,
		keyFrame:    keyFrame,
		packMode:    packMode,
	}
}

// Codec returns the frame's video codec.
func (f *VideoPacketFrame) Codec() VideoCodec { return f.codec }

// IsKeyFrame reports whether the frame is a key frame.
func (f *VideoPacketFrame) IsKeyFrame() bool { return f.keyFrame }

// PacketizationMode returns the H.264 packetization mode.
func (f *VideoPacketFrame) PacketizationMode() H264PacketizationMode { return f.packMode }
