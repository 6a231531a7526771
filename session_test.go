// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package framecrypt

import (
	"net"
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBadInit(t *testing.T) {
	_, err := NewSession(nil, nil)
	assert.ErrorIs(t, err, errNoConfig)

	_, err = NewSession(nil, &Config{KeyProvider: NewKeyProvider(testOptions())})
	assert.ErrorIs(t, err, errNoConn)
}

func buildSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()

	provider := NewKeyProvider(testOptions())
	require.NoError(t, provider.SetKey("alice", 0, []byte("session material")))
	config := &Config{
		KeyProvider:   provider,
		ParticipantID: "alice",
	}

	aPipe, bPipe := net.Pipe()
	aSession, err := NewSession(aPipe, config)
	require.NoError(t, err)
	bSession, err := NewSession(bPipe, config)
	require.NoError(t, err)

	return aSession, bSession
}

func TestSessionRoundTrip(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	aSession, bSession := buildSessionPair(t)

	const ssrc = 0xBADC0FFE
	writeStream, err := aSession.OpenWriteStream()
	require.NoError(t, err)
	readStream, err := bSession.OpenReadStream(ssrc)
	require.NoError(t, err)

	buf := make([]byte, 1500)
	for seq := uint16(1); seq <= 5; seq++ {
		payload := []byte{0xAA, byte(seq), byte(seq >> 1), 0xFF}
		header := &rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      10000 + uint32(seq)*160,
			SSRC:           ssrc,
		}

		_, err = writeStream.WriteRTP(header, payload)
		require.NoError(t, err)

		n, readHeader, err := readStream.ReadRTP(buf)
		require.NoError(t, err)
		assert.Equal(t, seq, readHeader.SequenceNumber)

		pkt := &rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		assert.Equal(t, payload, pkt.Payload)
	}

	assert.Equal(t, uint32(ssrc), readStream.GetSSRC())

	require.NoError(t, aSession.Close())
	require.NoError(t, bSession.Close())
}

func TestSessionAcceptStream(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	aSession, bSession := buildSessionPair(t)

	writeStream, err := aSession.OpenWriteStream()
	require.NoError(t, err)

	const ssrc = 0x1234
	acceptedCh := make(chan *ReadStream)
	go func() {
		stream, acceptErr := bSession.AcceptStream()
		if acceptErr != nil {
			close(acceptedCh)

			return
		}
		acceptedCh <- stream
	}()

	_, err = writeStream.WriteRTP(&rtp.Header{Version: 2, SSRC: ssrc, Timestamp: 1}, []byte{0xAA, 0x01})
	require.NoError(t, err)

	stream, ok := <-acceptedCh
	require.True(t, ok)
	assert.Equal(t, uint32(ssrc), stream.GetSSRC())

	buf := make([]byte, 1500)
	n, err := stream.Read(buf)
	require.NoError(t, err)

	pkt := &rtp.Packet{}
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	assert.Equal(t, []byte{0xAA, 0x01}, pkt.Payload)

	require.NoError(t, aSession.Close())
	require.NoError(t, bSession.Close())
}

func TestSessionRTCPPassthrough(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	provider := NewKeyProvider(testOptions())
	require.NoError(t, provider.SetKey("alice", 0, []byte("session material")))

	remote, local := net.Pipe()
	session, err := NewSession(local, &Config{KeyProvider: provider, ParticipantID: "alice"})
	require.NoError(t, err)

	sr := &rtcp.SenderReport{SSRC: 0x902F9E2E, NTPTime: 1, RTPTime: 2}
	raw, err := sr.Marshal()
	require.NoError(t, err)

	go func() {
		_, _ = remote.Write(raw)
	}()

	packets, err := session.ReadRTCP()
	require.NoError(t, err)
	require.Len(t, packets, 1)
	senderReport, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0x902F9E2E), senderReport.SSRC)

	require.NoError(t, session.Close())
	require.NoError(t, remote.Close())
}

func TestSessionCloseUnblocksReaders(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	aSession, bSession := buildSessionPair(t)

	readStream, err := bSession.OpenReadStream(0x77)
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1500)
		_, err := readStream.Read(buf)
		readErr <- err
	}()

	require.NoError(t, bSession.Close())
	assert.Error(t, <-readErr)

	require.NoError(t, aSession.Close())
}
