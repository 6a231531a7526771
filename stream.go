// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/transport/v3/packetio"
)

// ReadStream delivers the decrypted RTP packets of a single SSRC.
type ReadStream struct {
	mu sync.Mutex

	isInited bool
	isClosed chan bool

	session *Session
	ssrc    uint32

	buffer *packetio.Buffer
}

func (r *ReadStream) init(session *Session, ssrc uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isInited {
		return errStreamAlreadyInited
	}

	r.session = session
	r.ssrc = ssrc
	r.isInited = true
	r.isClosed = make(chan bool)
	r.buffer = packetio.NewBuffer()

	// Drop packets when the reader falls behind instead of growing
	// without bound.
	r.buffer.SetLimitSize(100 * 1000)

	return nil
}

func (r *ReadStream) write(buf []byte) error {
	_, err := r.buffer.Write(buf)
	if err == packetio.ErrFull {
		// The reader is slower than the stream. Decrypted frames are
		// not recoverable later, so drop silently like lossy transport.
		return nil
	}

	return err
}

// Read reads one decrypted RTP packet into buf.
func (r *ReadStream) Read(buf []byte) (int, error) {
	return r.buffer.Read(buf)
}

// ReadRTP reads one decrypted packet into buf and returns its parsed
// header.
func (r *ReadStream) ReadRTP(buf []byte) (int, *rtp.Header, error) {
	n, err := r.buffer.Read(buf)
	if err != nil {
		return 0, nil, err
	}

	header := &rtp.Header{}
	if _, err = header.Unmarshal(buf[:n]); err != nil {
		return 0, nil, err
	}

	return n, header, nil
}

// Close removes the stream from its session and releases the buffer.
func (r *ReadStream) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isInited {
		return errStreamClosed
	}

	select {
	case <-r.isClosed:
		return errStreamClosed
	default:
		close(r.isClosed)
		r.session.removeReadStream(r.ssrc)

		return r.buffer.Close()
	}
}

// GetSSRC returns the SSRC this stream demuxes.
func (r *ReadStream) GetSSRC() uint32 {
	return r.ssrc
}

// WriteStream encrypts outbound RTP packets and writes them to the
// session's conn.
type WriteStream struct {
	session *Session
}

// WriteRTP schedules one packet for encryption and transmission. The
// write to the underlying conn happens on the cryptor worker; transport
// errors are logged, cryption errors surface through the session's
// observer.
func (w *WriteStream) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	select {
	case <-w.session.closed:
		return 0, errSessionClosed
	default:
	}

	packet := &rtp.Packet{Header: *header, Payload: payload}
	w.session.cryptor.Transform(NewPacketFrame(packet, DirectionSender))

	return len(payload), nil
}

// Write encrypts and writes a full marshalled RTP packet.
func (w *WriteStream) Write(buf []byte) (int, error) {
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buf); err != nil {
		return 0, err
	}

	if _, err := w.WriteRTP(&packet.Header, packet.Payload); err != nil {
		return 0, err
	}

	return len(buf), nil
}
