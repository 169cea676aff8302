package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("fake transport closed")

type fakeTransport struct {
	sent      chan Query
	inbox     chan Stanza
	closed    chan struct{}
	closeOnce sync.Once
	sendErr   error
	// block, when set, stalls Send until it is closed or the transport is.
	block chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(chan Query, 64),
		inbox:  make(chan Stanza, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(q Query) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-f.closed:
			return errFakeClosed
		}
	}
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.sent <- q
	return nil
}

func (f *fakeTransport) Recv() (Stanza, error) {
	select {
	case st := <-f.inbox:
		return st, nil
	case <-f.closed:
		return Stanza{}, io.EOF
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) reply(st Stanza) {
	f.inbox <- st
}

func (f *fakeTransport) nextQuery(t *testing.T) Query {
	t.Helper()
	select {
	case q := <-f.sent:
		return q
	case <-time.After(2 * time.Second):
		t.Fatalf("no query sent")
		return Query{}
	}
}

// fakeDialer hands out transports in order; a nil entry dials with err.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
	dials      int
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.transports) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, errors.New("fake dialer exhausted")
	}
	next := d.transports[0]
	d.transports = d.transports[1:]
	if next == nil {
		return nil, errors.New("fake dial refused")
	}
	return next, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig() Config {
	return Config{
		FetchTimeout:       2 * time.Second,
		ConnectTimeout:     time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   1.0,
			MaxDelay:     5 * time.Millisecond,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
