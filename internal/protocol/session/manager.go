package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/avatarsvc/internal/protocol/jid"
	"github.com/danmuck/avatarsvc/internal/protocol/vcard"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is the upstream session state reported to the state hook.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// Option configures a Manager.
type Option func(*Manager)

// WithStateHook registers fn to be called on every state transition.
// fn runs on the goroutine that caused the transition and must not block.
func WithStateHook(fn func(State)) Option {
	return func(m *Manager) {
		m.onState = fn
	}
}

// WithIDGenerator replaces the uuid query id source.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// outboxSize bounds queries queued for one link's writer.
const outboxSize = 256

// link is one live transport plus its reader and writer lifetime. done
// closes when the reader drops the link.
type link struct {
	transport Transport
	out       chan Query
	done      chan struct{}
	err       error
}

// Manager owns one upstream session and correlates concurrent vCard queries
// over it.
type Manager struct {
	cfg     Config
	dialer  Dialer
	pending *pendingTable
	onState func(State)
	newID   func() string

	mu      sync.RWMutex
	link    *link
	state   State
	started bool
	closed  bool

	rng    *rand.Rand
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, dialer Dialer, opts ...Option) (*Manager, error) {
	if dialer == nil {
		return nil, ErrDialerMissing
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg.WithDefaults(),
		dialer:  dialer,
		pending: newPendingTable(),
		newID:   uuid.NewString,
		state:   StateDisconnected,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Connect establishes the session, retrying with backoff up to
// MaxConnectAttempts. On success a supervisor goroutine takes over and
// re-establishes the session whenever it drops, until Close.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	connected := false
	defer func() {
		if !connected {
			m.mu.Lock()
			m.started = false
			m.mu.Unlock()
		}
	}()

	// Cancel the attempt when either the caller or Close gives up.
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxConnectAttempts; attempt++ {
		m.setState(StateConnecting)
		transport, err := m.dialOnce(dialCtx)
		if err == nil {
			l, err := m.install(transport)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConnection, err)
			}
			connected = true
			m.wg.Add(1)
			go m.supervise(l)
			return nil
		}
		lastErr = err
		m.setState(StateDisconnected)
		log.Warn().
			Str("component", "session").
			Int("attempt", attempt).
			Int("max_attempts", m.cfg.MaxConnectAttempts).
			Err(err).
			Msg("connect attempt failed")
		if attempt == m.cfg.MaxConnectAttempts {
			break
		}
		if err := sleepContext(dialCtx, NextBackoffDelay(m.cfg.Backoff, attempt, m.rng)); err != nil {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}
	return fmt.Errorf("%w: after %d attempts: %v", ErrConnection, m.cfg.MaxConnectAttempts, lastErr)
}

// FetchCard queries the vCard for id over the shared session. It fails fast
// with ErrNotConnected while the session is down, with ErrTimeout when no
// reply arrives within FetchTimeout, and with an ErrProtocol match when the
// upstream answers with a stanza error.
func (m *Manager) FetchCard(ctx context.Context, id jid.JID) (vcard.Card, error) {
	if id.IsZero() {
		return vcard.Card{}, jid.ErrInvalid
	}
	if !m.Connected() {
		return vcard.Card{}, ErrNotConnected
	}

	to := id.String()
	qid := m.newID()
	// Register before reading the link: a drop that clears the link after
	// this point also fails this entry. The deadline covers queueing and
	// the write as well as the reply.
	p := m.pending.register(qid, to, time.Now())
	timer := time.NewTimer(m.cfg.FetchTimeout)
	defer timer.Stop()

	if l := m.currentLink(); l == nil {
		m.pending.resolve(qid, fetchResult{err: ErrNotConnected})
	} else {
		select {
		case l.out <- Query{ID: qid, To: to}:
		case <-l.done:
			m.pending.resolve(qid, fetchResult{err: fmt.Errorf("%w: session lost", ErrNotConnected)})
		case <-timer.C:
			m.expire(qid, to)
		case <-ctx.Done():
			m.pending.resolve(qid, fetchResult{err: ctx.Err()})
		}
	}

	var res fetchResult
	select {
	case res = <-p.done:
	case <-timer.C:
		m.expire(qid, to)
		res = <-p.done
	case <-ctx.Done():
		m.pending.resolve(qid, fetchResult{err: ctx.Err()})
		res = <-p.done
	}
	return res.card, res.err
}

// expire resolves qid with ErrTimeout unless something else got there first.
func (m *Manager) expire(qid, to string) {
	if m.pending.resolve(qid, fetchResult{err: ErrTimeout}) {
		log.Warn().
			Str("component", "session").
			Str("jid", to).
			Str("query_id", qid).
			Dur("timeout", m.cfg.FetchTimeout).
			Msg("vcard fetch timed out")
	}
}

// Connected reports whether a live session is installed.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.link != nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Pending returns the number of in-flight fetches.
func (m *Manager) Pending() int {
	return m.pending.len()
}

// PendingSnapshot lists in-flight fetches, oldest first.
func (m *Manager) PendingSnapshot() []PendingFetch {
	return m.pending.list()
}

// Close stops reconnection, closes the live transport, and fails every
// in-flight fetch with ErrNotConnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	l := m.link
	m.link = nil
	m.mu.Unlock()

	m.cancel()
	var err error
	if l != nil {
		err = l.transport.Close()
	}
	m.pending.failAll(fmt.Errorf("%w: %v", ErrNotConnected, ErrClosed))
	m.wg.Wait()
	m.setState(StateClosed)
	return err
}

func (m *Manager) dialOnce(ctx context.Context) (Transport, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	return m.dialer.Dial(attemptCtx)
}

// install swaps in a fresh transport and starts its reader.
func (m *Manager) install(transport Transport) (*link, error) {
	l := &link{
		transport: transport,
		out:       make(chan Query, outboxSize),
		done:      make(chan struct{}),
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = transport.Close()
		return nil, ErrClosed
	}
	m.link = l
	m.mu.Unlock()

	m.setState(StateConnected)
	m.wg.Add(2)
	go m.readLoop(l)
	go m.writeLoop(l)
	log.Info().Str("component", "session").Msg("session established")
	return l, nil
}

func (m *Manager) currentLink() *link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.link
}

// writeLoop is the only writer on l. Queries whose fetch already resolved
// are skipped.
func (m *Manager) writeLoop(l *link) {
	defer m.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case q := <-l.out:
			if _, ok := m.pending.peer(q.ID); !ok {
				continue
			}
			if err := m.write(l, q); err != nil {
				m.pending.resolve(q.ID, fetchResult{err: fmt.Errorf("%w: send: %v", ErrNotConnected, err)})
			}
		}
	}
}

// write sends q, closing the transport if the write outlives WriteTimeout.
// Closing unblocks the write and makes the reader drop the link.
func (m *Manager) write(l *link, q Query) error {
	stall := time.AfterFunc(m.cfg.WriteTimeout, func() {
		log.Warn().
			Str("component", "session").
			Str("query_id", q.ID).
			Dur("write_timeout", m.cfg.WriteTimeout).
			Msg("upstream write stalled, dropping session")
		_ = l.transport.Close()
	})
	defer stall.Stop()
	return l.transport.Send(q)
}

// supervise waits for the current link to drop and re-dials until Close.
func (m *Manager) supervise(l *link) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-l.done:
		}
		log.Warn().Str("component", "session").Err(l.err).Msg("session lost, reconnecting")

		next, ok := m.reconnect()
		if !ok {
			return
		}
		l = next
	}
}

func (m *Manager) reconnect() (*link, bool) {
	attempt := 0
	for {
		if m.ctx.Err() != nil {
			return nil, false
		}
		attempt++
		m.setState(StateConnecting)
		transport, err := m.dialOnce(m.ctx)
		if err == nil {
			l, err := m.install(transport)
			if err != nil {
				return nil, false
			}
			log.Info().Str("component", "session").Int("attempt", attempt).Msg("session re-established")
			return l, true
		}
		m.setState(StateDisconnected)
		log.Warn().Str("component", "session").Int("attempt", attempt).Err(err).Msg("reconnect attempt failed")
		if err := sleepContext(m.ctx, NextBackoffDelay(m.cfg.Backoff, attempt, m.rng)); err != nil {
			return nil, false
		}
	}
}

func (m *Manager) readLoop(l *link) {
	defer m.wg.Done()
	for {
		st, err := l.transport.Recv()
		if err != nil {
			m.drop(l, err)
			return
		}
		m.dispatch(st)
	}
}

// drop clears l before failing pending fetches so that fetches registered
// afterwards observe the missing link and fail fast.
func (m *Manager) drop(l *link, cause error) {
	m.mu.Lock()
	if m.link == l {
		m.link = nil
	}
	closed := m.closed
	m.mu.Unlock()

	_ = l.transport.Close()
	n := m.pending.failAll(fmt.Errorf("%w: session lost", ErrNotConnected))
	if !closed {
		m.setState(StateDisconnected)
		log.Debug().Str("component", "session").Int("failed_pending", n).Msg("pending fetches failed on session loss")
	}
	l.err = cause
	close(l.done)
}

func (m *Manager) dispatch(st Stanza) {
	switch st.Type {
	case IQResult, IQError:
	default:
		return
	}
	expected, ok := m.pending.peer(st.ID)
	if !ok {
		log.Debug().
			Str("component", "session").
			Str("query_id", st.ID).
			Str("from", st.From).
			Msg("late or unknown reply discarded")
		return
	}
	if !sameBareJID(st.From, expected) {
		log.Warn().
			Str("component", "session").
			Str("query_id", st.ID).
			Str("from", st.From).
			Str("expected", expected).
			Msg("reply from unexpected sender discarded")
		return
	}

	var res fetchResult
	if st.Type == IQError {
		res.err = parseStanzaError(st.Payload)
	} else {
		card, err := vcard.Parse(st.Payload)
		if err != nil {
			res.err = fmt.Errorf("%w: %v", ErrProtocol, err)
		} else {
			res.card = card
		}
	}
	m.pending.resolve(st.ID, res)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	hook := m.onState
	m.mu.Unlock()
	if changed && hook != nil {
		hook(s)
	}
}

// sameBareJID accepts an empty from, which servers use for replies they
// answer on the account's behalf.
func sameBareJID(from, expected string) bool {
	if from == "" {
		return true
	}
	bare := from
	if i := strings.IndexByte(bare, '/'); i >= 0 {
		bare = bare[:i]
	}
	return strings.EqualFold(bare, expected)
}

