package reader

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabfs/bridge/internal/protocol"
)

type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	readErr error
	idx     int
}

func (f *fakeTransport) Send(msg []byte) error { return nil }

func (f *fakeTransport) Receive() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < len(f.frames) {
		frame := f.frames[f.idx]
		f.idx++
		return frame, nil
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	// Block forever once frames are exhausted and no error is queued,
	// so Run does not busy-loop in tests that check delivery but not
	// termination.
	select {}
}

func (f *fakeTransport) Close() error { return nil }

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []*protocol.Response
	failedErr error
	failedCh  chan struct{}
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{failedCh: make(chan struct{})}
}

func (d *fakeDeliverer) Deliver(resp *protocol.Response) {
	d.mu.Lock()
	d.delivered = append(d.delivered, resp)
	d.mu.Unlock()
}

func (d *fakeDeliverer) FailAll(reason error) {
	d.mu.Lock()
	d.failedErr = reason
	d.mu.Unlock()
	close(d.failedCh)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunDeliversDecodedResponses(t *testing.T) {
	resp := &protocol.Response{ID: 7}
	encoded, err := json.Marshal(resp)
	require.NoError(t, err)

	tr := &fakeTransport{frames: [][]byte{encoded}, readErr: io.EOF}
	d := newFakeDeliverer()

	r := New(tr, d, testLogger())
	go r.Run()

	select {
	case <-d.failedCh:
	case <-time.After(time.Second):
		t.Fatal("Run never terminated on EOF")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.delivered, 1)
	assert.EqualValues(t, 7, d.delivered[0].ID)
	assert.ErrorIs(t, d.failedErr, io.EOF)
}

func TestRunSkipsMalformedFramesWithoutStopping(t *testing.T) {
	good, err := json.Marshal(&protocol.Response{ID: 3})
	require.NoError(t, err)

	tr := &fakeTransport{frames: [][]byte{[]byte("not json"), good}, readErr: io.EOF}
	d := newFakeDeliverer()

	r := New(tr, d, testLogger())
	go r.Run()

	select {
	case <-d.failedCh:
	case <-time.After(time.Second):
		t.Fatal("Run never terminated")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.delivered, 1)
	assert.EqualValues(t, 3, d.delivered[0].ID)
}
