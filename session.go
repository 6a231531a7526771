// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/transport/v3/packetio"
)

// Config configures a Session. After a Config is passed to NewSession it
// must not be modified.
type Config struct {
	// KeyProvider resolves the keys for ParticipantID.
	KeyProvider *KeyProvider

	// ParticipantID names the remote participant whose keys protect the
	// frames on this conn.
	ParticipantID string

	// Observer receives cryption state transitions, if set.
	Observer FrameCryptionStateObserver

	LoggerFactory logging.LoggerFactory
}

// Session runs end-to-end frame cryption over a packet-oriented
// net.Conn carrying multiplexed RTP and RTCP. Inbound RTP payloads are
// decrypted and demuxed into per-SSRC ReadStreams; RTCP is validated
// and passed through untouched since end-to-end encryption never covers
// it. Outbound packets written through the WriteStream are encrypted
// with the audio profile: a one byte clear prefix, the rest sealed.
type Session struct {
	conn    net.Conn
	cryptor *FrameCryptor

	newStream chan *ReadStream

	closeCh   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	readStreamsClosed bool
	readStreams       map[uint32]*ReadStream
	readStreamsLock   sync.Mutex

	rtcpBuffer *packetio.Buffer

	writeMu sync.Mutex

	log logging.LeveledLogger
}

// NewSession starts a session on conn. The cryptor is enabled from the
// start; install keys on the provider before traffic flows.
func NewSession(conn net.Conn, config *Config) (*Session, error) {
	if config == nil {
		return nil, errNoConfig
	}
	if conn == nil {
		return nil, errNoConn
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	cryptor, err := NewFrameCryptor(
		config.ParticipantID,
		MediaTypeAudio,
		config.KeyProvider,
		WithLoggerFactory(loggerFactory),
	)
	if err != nil {
		return nil, err
	}

	session := &Session{
		conn:        conn,
		cryptor:     cryptor,
		newStream:   make(chan *ReadStream),
		closeCh:     make(chan struct{}),
		closed:      make(chan struct{}),
		readStreams: map[uint32]*ReadStream{},
		rtcpBuffer:  packetio.NewBuffer(),
		log:         loggerFactory.NewLogger("framecrypt_session"),
	}

	if config.Observer != nil {
		cryptor.SetObserver(config.Observer)
	}
	cryptor.RegisterSink(&sessionSink{session: session})
	cryptor.SetEnabled(true)

	session.start()

	return session, nil
}

// AcceptStream blocks until an inbound SSRC is seen for the first time.
func (s *Session) AcceptStream() (*ReadStream, error) {
	stream, ok := <-s.newStream
	if !ok {
		return nil, errSessionClosed
	}

	return stream, nil
}

// OpenReadStream returns the ReadStream for an SSRC, creating it if it
// does not exist yet.
func (s *Session) OpenReadStream(ssrc uint32) (*ReadStream, error) {
	stream, _ := s.getOrCreateReadStream(ssrc)
	if stream == nil {
		return nil, errSessionClosed
	}

	return stream, nil
}

// OpenWriteStream returns the session's write stream.
func (s *Session) OpenWriteStream() (*WriteStream, error) {
	return &WriteStream{session: s}, nil
}

// ReadRTCP returns the next inbound RTCP compound packet, parsed.
func (s *Session) ReadRTCP() ([]rtcp.Packet, error) {
	buf := make([]byte, 8192)
	n, err := s.rtcpBuffer.Read(buf)
	if err != nil {
		return nil, err
	}

	return rtcp.Unmarshal(buf[:n])
}

// Close shuts the session down. Blocked readers are released and no
// frame is delivered once Close has begun.
func (s *Session) Close() error {
	var connErr error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		connErr = s.conn.Close()
		<-s.closed

		s.readStreamsLock.Lock()
		streams := make([]*ReadStream, 0, len(s.readStreams))
		for _, stream := range s.readStreams {
			streams = append(streams, stream)
		}
		s.readStreamsLock.Unlock()
		for _, stream := range streams {
			_ = stream.Close()
		}

		_ = s.rtcpBuffer.Close()
		_ = s.cryptor.Close()
	})

	return connErr
}

func (s *Session) start() {
	go func() {
		defer func() {
			close(s.newStream)

			s.readStreamsLock.Lock()
			s.readStreamsClosed = true
			s.readStreamsLock.Unlock()
			close(s.closed)
		}()

		buf := make([]byte, 8192)
		for {
			n, err := s.conn.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
					s.log.Errorf("read loop: %v", err)
				}

				return
			}

			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			if err = s.handle(pkt); err != nil {
				s.log.Infof("read loop: %v", err)
			}
		}
	}()
}

func (s *Session) handle(pkt []byte) error {
	if isRTCPPacket(pkt) {
		if _, err := rtcp.Unmarshal(pkt); err != nil {
			return err
		}
		if _, err := s.rtcpBuffer.Write(pkt); err != nil && !errors.Is(err, packetio.ErrFull) {
			return err
		}

		return nil
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(pkt); err != nil {
		return err
	}

	stream, isNew := s.getOrCreateReadStream(packet.SSRC)
	if stream == nil {
		return nil
	}
	if isNew {
		select {
		case s.newStream <- stream:
		case <-s.closeCh:
			return nil
		}
	}

	s.cryptor.Transform(NewPacketFrame(packet, DirectionReceiver))

	return nil
}

func (s *Session) getOrCreateReadStream(ssrc uint32) (*ReadStream, bool) {
	s.readStreamsLock.Lock()
	defer s.readStreamsLock.Unlock()

	if s.readStreamsClosed {
		return nil, false
	}

	if stream, ok := s.readStreams[ssrc]; ok {
		return stream, false
	}

	stream := &ReadStream{}
	if err := stream.init(s, ssrc); err != nil {
		return nil, false
	}
	s.readStreams[ssrc] = stream

	return stream, true
}

func (s *Session) removeReadStream(ssrc uint32) {
	s.readStreamsLock.Lock()
	defer s.readStreamsLock.Unlock()

	if s.readStreamsClosed {
		return
	}

	delete(s.readStreams, ssrc)
}

// sessionSink receives frames from the session's cryptor: outbound
// frames are written to the conn, inbound ones land in their stream's
// buffer.
type sessionSink struct {
	session *Session
}

func (sk *sessionSink) OnTransformedFrame(frame Frame) {
	packetFrame, ok := frame.(*PacketFrame)
	if !ok {
		return
	}
	sess := sk.session

	raw, err := packetFrame.Packet().Marshal()
	if err != nil {
		sess.log.Errorf("sink: marshal: %v", err)

		return
	}

	switch frame.Direction() {
	case DirectionSender:
		sess.writeMu.Lock()
		_, err = sess.conn.Write(raw)
		sess.writeMu.Unlock()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			sess.log.Errorf("sink: write: %v", err)
		}
	case DirectionReceiver:
		sess.readStreamsLock.Lock()
		stream := sess.readStreams[frame.SSRC()]
		sess.readStreamsLock.Unlock()
		if stream == nil {
			return
		}
		if err = stream.write(raw); err != nil {
			sess.log.Warnf("sink: buffer: %v", err)
		}
	case DirectionUnknown:
	}
}

// isRTCPPacket demuxes RTP and RTCP sharing one conn (RFC 5761): the
// RTCP packet type octet occupies the range 192..223.
func isRTCPPacket(pkt []byte) bool {
	return len(pkt) >= 4 && pkt[1] >= 192 && pkt[1] <= 223
}
