package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// PipeTransport speaks the native-messaging framing over two byte
// streams: a uint32 little-endian length prefix followed by that many
// bytes of JSON. This is the framing Chrome's nativeMessaging host API
// uses and the one the original tabfs.c host process spoke over
// stdin/stdout.
type PipeTransport struct {
	in  *bufio.Reader
	out io.Writer

	writeMu sync.Mutex
	closer  io.Closer
}

// NewPipeTransport wraps in/out (typically os.Stdin/os.Stdout) as a
// Transport. closer, if non-nil, is closed by Close.
func NewPipeTransport(in io.Reader, out io.Writer, closer io.Closer) *PipeTransport {
	return &PipeTransport{
		in:     bufio.NewReaderSize(in, MaxPipeFrameSize),
		out:    out,
		closer: closer,
	}
}

// PipeDialer adapts NewPipeTransport to the Dialer interface for
// callers that construct transports uniformly regardless of kind.
type PipeDialer struct {
	In     io.Reader
	Out    io.Writer
	Closer io.Closer
}

func (d PipeDialer) Dial(ctx context.Context) (Transport, error) {
	return NewPipeTransport(d.In, d.Out, d.Closer), nil
}

// Send writes the length prefix and the message body. The write of the
// two parts is serialized against concurrent Send callers so that no
// writer's prefix is ever interleaved with another writer's body (§5:
// a message is a single, atomically-written unit on the wire).
func (p *PipeTransport) Send(msg []byte) error {
	if len(msg) > MaxPipeFrameSize {
		return fmt.Errorf("transport/pipe: message of %d bytes exceeds max frame size %d", len(msg), MaxPipeFrameSize)
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(msg)))

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.out.Write(header[:]); err != nil {
		return fmt.Errorf("transport/pipe: write length prefix: %w", err)
	}
	if _, err := p.out.Write(msg); err != nil {
		return fmt.Errorf("transport/pipe: write body: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed message. A length exceeding
// MaxPipeFrameSize is treated as a fatal protocol violation (§4.3): the
// peer is broken and there is no way to resynchronize a byte stream once
// a frame's true boundary is lost.
func (p *PipeTransport) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(p.in, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxPipeFrameSize {
		return nil, fmt.Errorf("transport/pipe: frame length %d exceeds max %d, cannot resynchronize", n, MaxPipeFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(p.in, body); err != nil {
		return nil, fmt.Errorf("transport/pipe: read body: %w", err)
	}
	return body, nil
}

func (p *PipeTransport) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
