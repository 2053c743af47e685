package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ closed bool }

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

func TestPipeTransportSendWritesLengthPrefixedFrame(t *testing.T) {
	var out bytes.Buffer
	p := NewPipeTransport(bytes.NewReader(nil), &out, nil)

	require.NoError(t, p.Send([]byte("hello")))

	var n uint32
	require.NoError(t, binary.Read(&out, binary.LittleEndian, &n))
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "hello", out.String())
}

func TestPipeTransportSendRejectsOversizeFrame(t *testing.T) {
	var out bytes.Buffer
	p := NewPipeTransport(bytes.NewReader(nil), &out, nil)

	big := make([]byte, MaxPipeFrameSize+1)
	err := p.Send(big)
	assert.Error(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestPipeTransportReceiveRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 5)
	wire.Write(header)
	wire.WriteString("hello")

	p := NewPipeTransport(&wire, io.Discard, nil)

	msg, err := p.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}

func TestPipeTransportReceiveRejectsOversizeFrame(t *testing.T) {
	var wire bytes.Buffer
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, MaxPipeFrameSize+1)
	wire.Write(header)

	p := NewPipeTransport(&wire, io.Discard, nil)

	_, err := p.Receive()
	assert.Error(t, err)
}

func TestPipeTransportReceiveEOF(t *testing.T) {
	p := NewPipeTransport(bytes.NewReader(nil), io.Discard, nil)
	_, err := p.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeTransportCloseClosesCloser(t *testing.T) {
	closer := &nopCloser{}
	p := NewPipeTransport(bytes.NewReader(nil), io.Discard, closer)

	require.NoError(t, p.Close())
	assert.True(t, closer.closed)
}

func TestPipeTransportMultipleFramesInSequence(t *testing.T) {
	var wire bytes.Buffer
	for _, s := range []string{"first", "second-message"} {
		header := make([]byte, 4)
		binary.LittleEndian.PutUint32(header, uint32(len(s)))
		wire.Write(header)
		wire.WriteString(s)
	}

	p := NewPipeTransport(&wire, io.Discard, nil)

	msg1, err := p.Receive()
	require.NoError(t, err)
	assert.Equal(t, "first", string(msg1))

	msg2, err := p.Receive()
	require.NoError(t, err)
	assert.Equal(t, "second-message", string(msg2))
}
