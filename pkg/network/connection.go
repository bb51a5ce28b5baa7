package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/logging"
	"github.com/ZentaChain/gerti-client/pkg/metrics"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyOpen      = errors.New("connection already open")
	ErrNotOpen          = errors.New("connection not open")
)

// Defaults for Options
const (
	DefaultEventBuffer    = 256
	DefaultInboxSize      = 1024
	DefaultReadBufferSize = 32 * 1024
)

// Options tunes a Connection. The zero value is usable.
type Options struct {
	// Version is the greeting version. Zero means protocol.CurrentVersion.
	Version protocol.Version

	// Clock supplies the time for signing and replay checks.
	Clock func() time.Time

	Logger  *zap.Logger
	Metrics *metrics.Recorder

	// EventBuffer is the capacity of the Events channel. When it is full,
	// HandleChunk blocks until the consumer catches up or the connection
	// closes.
	EventBuffer int

	// InboxSize bounds the packets kept for Read; the oldest is dropped
	// when full.
	InboxSize int

	// ReadBufferSize is the chunk size used by Run.
	ReadBufferSize int
}

func (o Options) withDefaults() Options {
	if o.Version == (protocol.Version{}) {
		o.Version = protocol.CurrentVersion
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	return o
}

// Connection is the client side of one GERTe peer link.
//
// Every transition runs under one mutex, so HandleChunk, HandleClosed,
// Write, Read and Close may be called from any goroutine. Events raised
// under the mutex are queued and handed to the channel after it is
// released.
type Connection struct {
	id   *protocol.Identity
	keys protocol.KeyResolver
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	state     ConnState
	transport io.ReadWriteCloser
	greeted   time.Time
	handshake []byte
	assembler *assembler
	pending   []*protocol.Packet
	inbox     []*protocol.Packet
	outbox    []Event
	done      chan struct{}

	deliverMu sync.Mutex
	events    chan Event
}

// NewConnection creates a connection in StateConnecting.
func NewConnection(id *protocol.Identity, keys protocol.KeyResolver, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:     id,
		keys:   keys,
		opts:   opts,
		log:    opts.Logger.With(zap.String("identity", id.Address().String())),
		state:  StateConnecting,
		done:   make(chan struct{}),
		events: make(chan Event, opts.EventBuffer),
	}
}

// Events returns the event stream. It is closed after EventClosed.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// State returns the current state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of writes waiting for the handshake.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Open binds the transport and sends the greeting.
func (c *Connection) Open(t io.ReadWriteCloser) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return fmt.Errorf("%w: state %s", ErrAlreadyOpen, c.state)
	}

	c.transport = t
	c.opts.Metrics.ConnectionOpened()

	greeting := protocol.EncodeGreeting(c.opts.Version, c.id.Address())
	if _, err := t.Write(greeting); err != nil {
		c.closeLocked(err, "error")
		return fmt.Errorf("failed to send greeting: %w", err)
	}

	c.state = StateAwaitingHandshakeReply
	c.greeted = c.opts.Clock()
	c.log.Debug("greeting sent",
		zap.Uint8("major", c.opts.Version.Major),
		zap.Uint8("minor", c.opts.Version.Minor))
	return nil
}

// HandleChunk processes bytes received from the transport. It returns once
// every resulting event is on the Events channel or the connection has
// closed, so a slow consumer slows the reader down instead of losing events.
func (c *Connection) HandleChunk(chunk []byte) {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAwaitingHandshakeReply:
		c.handleHandshakeLocked(chunk)
	case StateReady:
		c.assembler.write(chunk)
		c.drainLocked()
	default:
		c.log.Debug("ignoring chunk", zap.Stringer("state", c.state), zap.Int("bytes", len(chunk)))
	}
}

func (c *Connection) handleHandshakeLocked(chunk []byte) {
	c.handshake = append(c.handshake, chunk...)

	done, err := protocol.ParseHandshakeReply(c.handshake)
	if !done {
		return
	}

	if err != nil {
		c.rejectLocked(err)
		return
	}

	// The accepting reply chunk is consumed whole; frames start with the
	// next chunk.
	c.handshake = nil
	c.state = StateReady
	c.assembler = newAssembler(c.keys)
	c.opts.Metrics.HandshakeAccepted(c.opts.Clock().Sub(c.greeted))

	queued := c.pending
	c.pending = nil
	c.opts.Metrics.PendingDelta(-len(queued))

	for _, p := range queued {
		if err := c.sendLocked(p); err != nil {
			c.log.Warn("failed to flush queued packet", zap.Stringer("packet", p), zap.Error(err))
			if c.state == StateClosed {
				return
			}
		}
	}

	c.log.Info("connection ready", zap.Int("flushed", len(queued)))
	c.emitLocked(Event{Type: EventReady})
}

// rejectLocked reports a failed handshake and closes.
func (c *Connection) rejectLocked(err error) {
	var hsErr *protocol.HandshakeError
	if errors.As(err, &hsErr) {
		c.opts.Metrics.HandshakeFailed(hsErr.Code)
	}
	c.log.Warn("handshake rejected", zap.Error(err))
	c.emitLocked(Event{Type: EventHandshakeError, Err: err})
	c.closeLocked(err, "error")
}

func (c *Connection) drainLocked() {
	for c.state == StateReady {
		p, err := c.assembler.next(c.opts.Clock())
		switch {
		case errors.Is(err, protocol.ErrTruncated):
			return
		case err != nil:
			c.opts.Metrics.FrameRejected(err)
			c.log.Debug("frame rejected", zap.Error(err))
			c.emitLocked(Event{Type: EventRejected, Err: err})
		default:
			c.opts.Metrics.FrameReceived(len(p.Data()))
			if len(c.inbox) >= c.opts.InboxSize {
				c.inbox = c.inbox[1:]
			}
			c.inbox = append(c.inbox, p)
			c.emitLocked(Event{Type: EventData, Packet: p})
		}
	}
}

// HandleClosed processes the transport going away.
func (c *Connection) HandleClosed(err error) {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}

	if c.state == StateAwaitingHandshakeReply {
		if rejected := protocol.HandshakeReplyAtClose(c.handshake); rejected != nil {
			c.rejectLocked(rejected)
			return
		}
	}

	if IsBenign(err) {
		c.closeLocked(nil, "remote")
		return
	}
	c.closeLocked(err, "error")
}

// Write sends p, stamping its source with the local identity. Before the
// handshake completes the packet is queued and sent once Ready.
func (c *Connection) Write(p *protocol.Packet) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrConnectionClosed
	}

	stamped := p.WithSource(p.Source().Stamp(c.id.Address().Internal()))

	if c.state != StateReady {
		c.pending = append(c.pending, stamped)
		c.opts.Metrics.PendingDelta(1)
		return nil
	}

	return c.sendLocked(stamped)
}

func (c *Connection) sendLocked(p *protocol.Packet) error {
	frame, err := protocol.EncodeFrame(p, c.id, c.opts.Clock())
	if err != nil {
		return err
	}

	if _, err := c.transport.Write(frame); err != nil {
		if IsBenign(err) {
			c.closeLocked(nil, "remote")
		} else {
			c.closeLocked(err, "error")
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.opts.Metrics.FrameSent(len(p.Data()))
	return nil
}

// Read returns the oldest received packet without blocking.
func (c *Connection) Read() (*protocol.Packet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.inbox) == 0 {
		return nil, false
	}

	p := c.inbox[0]
	c.inbox[0] = nil
	c.inbox = c.inbox[1:]
	return p, true
}

// Close sends the close marker when Ready and shuts the transport down.
// Closing twice is a no-op.
func (c *Connection) Close() error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}

	var markerErr error
	if c.state == StateReady {
		_, markerErr = c.transport.Write([]byte{protocol.CloseMarker})
	}

	c.closeLocked(nil, "local")
	if markerErr != nil && !IsBenign(markerErr) {
		return fmt.Errorf("failed to send close marker: %w", markerErr)
	}
	return nil
}

// closeLocked moves to StateClosed, releases the transport and queues the
// final event.
func (c *Connection) closeLocked(cause error, reason string) {
	if c.state == StateClosed {
		return
	}

	prev := c.state
	c.state = StateClosed
	close(c.done)

	if c.transport != nil {
		_ = c.transport.Close()
	}
	if n := len(c.pending); n > 0 {
		c.opts.Metrics.PendingDelta(-n)
		c.log.Warn("dropping queued packets", zap.Int("count", n))
	}
	c.pending = nil
	c.handshake = nil

	c.opts.Metrics.ConnectionClosed(reason)
	c.log.Info("connection closed",
		zap.Stringer("from", prev),
		zap.String("reason", reason),
		zap.Error(cause))

	c.emitLocked(Event{Type: EventClosed, Err: cause})
}

// emitLocked queues ev for the next flush.
func (c *Connection) emitLocked(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.opts.Clock()
	}
	c.outbox = append(c.outbox, ev)
}

// flush hands queued events to the channel in order. It must be called
// without c.mu held. Sends block while the channel is full; once the
// connection is closed the remaining events are dropped and EventClosed
// evicts older ones so it always gets through.
func (c *Connection) flush() {
	c.mu.Lock()
	empty := len(c.outbox) == 0
	c.mu.Unlock()
	if empty {
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	batch := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for _, ev := range batch {
		if ev.Type == EventClosed {
			c.publishFinal(ev)
			close(c.events)
			return
		}

		select {
		case c.events <- ev:
			continue
		default:
		}

		select {
		case c.events <- ev:
		case <-c.done:
			c.log.Debug("connection closed, dropping event", zap.Stringer("type", ev.Type))
		}
	}
}

// publishFinal makes room for ev by discarding the oldest events.
func (c *Connection) publishFinal(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}

		select {
		case <-c.events:
		default:
		}
	}
}

// Run reads from the transport until it closes or ctx is done. Benign
// disconnects return nil.
func (c *Connection) Run(ctx context.Context) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return ErrNotOpen
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		n, err := t.Read(buf)
		if n > 0 {
			c.HandleChunk(buf[:n])
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.State() == StateClosed {
			return nil
		}

		c.HandleClosed(err)
		if IsBenign(err) {
			return nil
		}
		return err
	}
}

// IsBenign reports whether err is an ordinary disconnect rather than a
// failure worth surfacing.
func IsBenign(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
