// Package mux implements the Multiplexer (§4.2): it assigns correlation
// identifiers to outstanding requests, hands delivered responses back to
// the goroutine that is blocked awaiting them, and fails every outstanding
// waiter when the transport goes away.
//
// Correlation-id allocation uses the slot-table scheme (§4.2, scheme 1):
// a fixed-size array of waiter slots, the id being the slot's index. The
// alternative scheme, keying the id on a stable per-thread identifier,
// has no natural expression over goroutines, which the Go runtime
// multiplexes over OS threads without exposing a stable identifier.
package mux

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tabfs/bridge/internal/protocol"
)

// Sender is the subset of transport.Transport the Multiplexer needs to
// hand off an outbound frame. Kept narrow so mux does not import transport
// (transport has no business knowing about waiters).
type Sender interface {
	Send(msg []byte) error
}

// ErrDisconnected is returned by Submit, synchronously, for any call made
// after fail_all and before a new peer connects (§8 property 4).
var ErrDisconnected = errors.New("mux: peer not connected")

// ErrSlotTableFull is the fatal "queue full" condition of §4.2/§7: the
// process is expected to restart.
var ErrSlotTableFull = errors.New("mux: slot table full")

type waiter struct {
	ch chan *protocol.Response
}

// Multiplexer correlates requests with responses. It is safe for
// concurrent use by many goroutines calling Submit, and by exactly one
// goroutine (the Reader) calling Deliver.
type Multiplexer struct {
	sender Sender
	log    *logrus.Logger

	mu          sync.Mutex
	slots       []*waiter
	disconnected bool
	sendMu      sync.Mutex // serializes Sender.Send; a single message is written atomically (§5)
}

// New creates a Multiplexer with the given number of slots, sending
// outbound frames through sender.
func New(sender Sender, slots int, log *logrus.Logger) *Multiplexer {
	if slots <= 0 {
		slots = 128
	}
	return &Multiplexer{
		sender: sender,
		log:    log,
		slots:  make([]*waiter, slots),
	}
}

// allocate finds the first empty slot, installs w there, and returns its
// index as the correlation id. LOCKS_EXCLUDED(none); caller must hold mu.
func (m *Multiplexer) allocate(w *waiter) (uint64, error) {
	for idx := range m.slots {
		if m.slots[idx] == nil {
			m.slots[idx] = w
			return uint64(idx), nil
		}
	}
	return 0, ErrSlotTableFull
}

// Submit sends req (after stamping it with a freshly allocated id) and
// blocks until the matching response is delivered or the peer
// disconnects. Safe to call from many goroutines concurrently (§4.2).
func (m *Multiplexer) Submit(req *protocol.Request) (*protocol.Response, error) {
	w := &waiter{ch: make(chan *protocol.Response, 1)}

	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return nil, ErrDisconnected
	}
	id, err := m.allocate(w)
	if err != nil {
		m.mu.Unlock()
		// A full slot table is a resource-exhaustion fatal condition (§7):
		// Fatal logs and exits the process, so the return below is reached
		// only if the logger's exit function has been replaced.
		m.log.WithError(err).Fatal("mux: slot table exhausted, aborting")
		return nil, err
	}
	m.mu.Unlock()

	req.ID = id

	data, err := protocol.Marshal(req)
	if err != nil {
		m.release(id)
		return nil, errors.Wrap(err, "mux: marshal request")
	}

	// Never hold the table lock across the blocking send (§5 locking
	// discipline); sendMu only serializes concurrent writers against each
	// other, it is not the table lock.
	m.sendMu.Lock()
	err = m.sender.Send(data)
	m.sendMu.Unlock()
	if err != nil {
		m.release(id)
		return nil, errors.Wrap(err, "mux: send request")
	}

	resp, ok := <-w.ch
	if !ok {
		return nil, ErrDisconnected
	}
	return resp, nil
}

// release removes the waiter for id, if any remains (used on failure
// paths where no response will ever arrive).
func (m *Multiplexer) release(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := int(id)
	if idx >= 0 && idx < len(m.slots) {
		m.slots[idx] = nil
	}
}

// Deliver is called by the Reader for every inbound response. It must
// never block: it looks up the waiter under the table lock, removes it
// from the table, and hands the response off over the waiter's own
// buffered channel (capacity 1), which cannot block.
func (m *Multiplexer) Deliver(resp *protocol.Response) {
	idx := int(resp.ID)

	m.mu.Lock()
	if idx < 0 || idx >= len(m.slots) || m.slots[idx] == nil {
		m.mu.Unlock()
		m.log.WithField("id", resp.ID).Warn("mux: response for unknown id, dropping")
		return
	}
	w := m.slots[idx]
	m.slots[idx] = nil
	m.mu.Unlock()

	w.ch <- resp
}

// FailAll wakes every outstanding waiter with a synthesized error
// response and marks the Multiplexer disconnected, so that any Submit
// racing with this call either observes a waiter wakeup or the
// disconnected flag, never neither (§8 property 4).
func (m *Multiplexer) FailAll(reason error) {
	m.mu.Lock()
	m.disconnected = true
	pending := m.slots
	m.slots = make([]*waiter, len(m.slots))
	m.mu.Unlock()

	errResp := &protocol.Response{Error: int(errnoEIO)}
	_ = reason // reason is logged by the caller; the wire-facing errno is always EIO

	for _, w := range pending {
		if w == nil {
			continue
		}
		w.ch <- errResp
	}
}

// Reconnected clears the disconnected flag so that subsequent Submit
// calls are attempted again once a new peer connection replaces the old
// one (§4.3 WebSocket loopback: "subsequent connections replace the
// previous one").
func (m *Multiplexer) Reconnected() {
	m.mu.Lock()
	m.disconnected = false
	m.mu.Unlock()
}

// errnoEIO is written as a literal so that mux imports no errno package;
// its value (5) is POSIX EIO on every platform this bridge targets.
const errnoEIO = 5
