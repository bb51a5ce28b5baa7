package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/logging"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

var (
	ErrPoolClosed   = errors.New("connection pool closed")
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrPeerExists   = errors.New("peer already added")
	ErrNoPeersReady = errors.New("no peers ready")
)

// DialFunc opens a connection to target and starts its read loop.
type DialFunc func(ctx context.Context, target ma.Multiaddr) (*Connection, error)

// PeerEvent is a connection event tagged with the peer it came from.
type PeerEvent struct {
	Peer string
	Event
}

// PeerStatus describes one pooled peer.
type PeerStatus struct {
	Name      string    `json:"name"`
	Target    string    `json:"target"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Rejected  bool      `json:"rejected"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Identity *protocol.Identity
	Keys     protocol.KeyResolver
	Options  Options
	Backoff  Backoff

	// EventBuffer is the capacity of the pool's event channel.
	EventBuffer int

	// Dial overrides how connections are opened.
	Dial DialFunc
}

type peerState struct {
	name     string
	target   ma.Multiaddr
	conn     *Connection
	attempts int
	rejected bool
	lastErr  error
	since    time.Time
}

// Pool keeps one connection per peer and redials peers that drop.
// Peers whose handshake was rejected are not redialed.
type Pool struct {
	cfg  PoolConfig
	log  *zap.Logger
	dial DialFunc

	mu     sync.RWMutex
	peers  map[string]*peerState
	closed bool

	events chan PeerEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		log:    logging.OrNop(cfg.Options.Logger).Named("pool"),
		peers:  make(map[string]*peerState),
		events: make(chan PeerEvent, cfg.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	p.dial = cfg.Dial
	if p.dial == nil {
		p.dial = func(ctx context.Context, target ma.Multiaddr) (*Connection, error) {
			return Dial(ctx, target, cfg.Identity, cfg.Keys, cfg.Options)
		}
	}
	return p
}

// Events returns every pooled connection's events. It is closed by Close.
func (p *Pool) Events() <-chan PeerEvent {
	return p.events
}

// Add registers a peer and starts connecting to it.
func (p *Pool) Add(name string, target ma.Multiaddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, exists := p.peers[name]; exists {
		return fmt.Errorf("%w: %s", ErrPeerExists, name)
	}

	ps := &peerState{name: name, target: target, since: time.Now()}
	p.peers[name] = ps

	p.wg.Add(1)
	go p.supervise(ps)
	return nil
}

// supervise dials ps until the pool closes or the peer rejects us.
func (p *Pool) supervise(ps *peerState) {
	defer p.wg.Done()

	log := p.log.With(zap.String("peer", ps.name), zap.Stringer("target", ps.target))
	attempt := 0

	for {
		conn, err := p.dial(p.ctx, ps.target)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.record(ps, nil, err)
			delay := p.cfg.Backoff.Delay(attempt)
			log.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", delay))
			attempt++
			if !sleepContext(p.ctx, delay) {
				return
			}
			continue
		}

		p.record(ps, conn, nil)
		ready, closeErr := p.forward(ps.name, conn)
		if ready {
			attempt = 0
		}
		p.record(ps, nil, closeErr)

		if errors.Is(closeErr, protocol.ErrHandshakeRejected) {
			p.mu.Lock()
			ps.rejected = true
			p.mu.Unlock()
			log.Error("peer rejected handshake, not redialing", zap.Error(closeErr))
			return
		}
		if p.ctx.Err() != nil {
			return
		}

		delay := p.cfg.Backoff.Delay(attempt)
		log.Info("connection lost, redialing", zap.Duration("retry_in", delay), zap.Error(closeErr))
		attempt++
		if !sleepContext(p.ctx, delay) {
			return
		}
	}
}

// forward relays conn's events until it closes. It reports whether the
// connection reached Ready and why it closed.
func (p *Pool) forward(name string, conn *Connection) (bool, error) {
	var closeErr error
	ready := false

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return ready, closeErr
			}
			switch ev.Type {
			case EventReady:
				ready = true
			case EventClosed:
				closeErr = ev.Err
			}

			select {
			case p.events <- PeerEvent{Peer: name, Event: ev}:
			case <-p.ctx.Done():
				p.drain(conn)
				return ready, nil
			}

		case <-p.ctx.Done():
			p.drain(conn)
			return ready, nil
		}
	}
}

// drain closes conn and discards its remaining events.
func (p *Pool) drain(conn *Connection) {
	_ = conn.Close()
	for range conn.Events() {
	}
}

func (p *Pool) record(ps *peerState, conn *Connection, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps.conn = conn
	ps.since = time.Now()
	if conn != nil {
		ps.attempts++
	}
	if err != nil {
		ps.lastErr = err
	}
}

// Write sends pkt to the named peer. Packets written before the peer is
// Ready are queued by its connection.
func (p *Pool) Write(peer string, pkt *protocol.Packet) error {
	conn, err := p.connection(peer)
	if err != nil {
		return err
	}
	return conn.Write(pkt)
}

func (p *Pool) connection(peer string) (*Connection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	ps, ok := p.peers[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	if ps.conn == nil {
		return nil, fmt.Errorf("%w: %s is not connected", ErrConnectionClosed, peer)
	}
	return ps.conn, nil
}

// Broadcast writes pkt to every Ready peer and returns how many accepted it.
func (p *Pool) Broadcast(pkt *protocol.Packet) (int, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return 0, ErrPoolClosed
	}
	conns := make([]*Connection, 0, len(p.peers))
	for _, ps := range p.peers {
		if ps.conn != nil && ps.conn.State() == StateReady {
			conns = append(conns, ps.conn)
		}
	}
	p.mu.RUnlock()

	if len(conns) == 0 {
		return 0, ErrNoPeersReady
	}

	sent := 0
	var errs []error
	for _, conn := range conns {
		if err := conn.Write(pkt); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Status returns a snapshot of every peer, sorted by name.
func (p *Pool) Status() []PeerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PeerStatus, 0, len(p.peers))
	for _, ps := range p.peers {
		st := PeerStatus{
			Name:     ps.name,
			Target:   ps.target.String(),
			State:    StateClosed.String(),
			Attempts: ps.attempts,
			Rejected: ps.rejected,
			Since:    ps.since,
		}
		if ps.conn != nil {
			st.State = ps.conn.State().String()
		}
		if ps.lastErr != nil {
			st.LastError = ps.lastErr.Error()
		}
		result = append(result, st)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Peers returns the registered peer names, sorted.
func (p *Pool) Peers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.peers))
	for name := range p.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connection and stops redialing.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true

	conns := make([]*Connection, 0, len(p.peers))
	for _, ps := range p.peers {
		if ps.conn != nil {
			conns = append(conns, ps.conn)
		}
	}
	p.mu.Unlock()

	p.cancel()
	for _, conn := range conns {
		_ = conn.Close()
	}

	p.wg.Wait()
	close(p.events)
	return nil
}
