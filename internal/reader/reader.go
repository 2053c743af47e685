// Package reader runs the single goroutine that drains a transport and
// hands every decoded response to the Multiplexer (§4.2, §4.3). It is the
// only goroutine that calls Transport.Receive, so Deliver never races
// against itself.
package reader

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/tabfs/bridge/internal/protocol"
	"github.com/tabfs/bridge/internal/transport"
)

// Deliverer is the subset of *mux.Multiplexer the Reader needs.
type Deliverer interface {
	Deliver(resp *protocol.Response)
	FailAll(reason error)
}

// Reader owns the receive loop for one transport.
type Reader struct {
	t   transport.Transport
	mux Deliverer
	log *logrus.Logger
}

// New constructs a Reader. Run must be called to start draining t.
func New(t transport.Transport, mux Deliverer, log *logrus.Logger) *Reader {
	return &Reader{t: t, mux: mux, log: log}
}

// Run reads frames from the transport until it errors, decoding each
// into a protocol.Response and delivering it to the Multiplexer.
// Malformed individual frames are logged and skipped (not fatal, per
// §8: a peer bug in one reply should not take down the bridge); a
// Receive error (disconnect, EOF, read error) ends the loop and fails
// every outstanding waiter, since no further responses can arrive on a
// dead connection (§8 property 4).
func (r *Reader) Run() {
	for {
		data, err := r.t.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.log.Info("reader: transport closed")
			} else {
				r.log.WithError(err).Warn("reader: receive error, failing outstanding requests")
			}
			r.mux.FailAll(err)
			return
		}

		var resp protocol.Response
		if err := protocol.Unmarshal(data, &resp); err != nil {
			r.log.WithError(err).Warn("reader: discarding malformed frame")
			continue
		}

		r.mux.Deliver(&resp)
	}
}
