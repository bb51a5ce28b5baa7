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
	"testing"
	"time"

	"github.com/ZentaChain/gerti-client/pkg/crypto"
	"github.com/ZentaChain/gerti-client/pkg/keystore"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

var testNow = time.Unix(1_700_000_000, 0)

// fakeTransport records writes and serves reads from a pipe the test feeds.
type fakeTransport struct {
	mu       sync.Mutex
	written  []byte
	closed   bool
	writeErr error

	pr *io.PipeReader
	pw *io.PipeWriter
}

func newFakeTransport() *fakeTransport {
	pr, pw := io.Pipe()
	return &fakeTransport{pr: pr, pw: pw}
}

func (f *fakeTransport) Read(b []byte) (int, error) {
	return f.pr.Read(b)
}

func (f *fakeTransport) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	f.written = append(f.written, b...)
	return len(b), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.pr.Close()
}

func (f *fakeTransport) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// testNetwork holds a local identity, a remote peer identity and stores
// that let each side verify the other.
type testNetwork struct {
	local      *protocol.Identity
	remote     *protocol.Identity
	localKeys  *keystore.Store
	remoteKeys *keystore.Store
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()

	localKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	remoteKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	local, err := protocol.ParseIdentity("10.20", localKey)
	if err != nil {
		t.Fatalf("ParseIdentity() error = %v", err)
	}
	remote, err := protocol.ParseIdentity("30.40", remoteKey)
	if err != nil {
		t.Fatalf("ParseIdentity() error = %v", err)
	}

	n := &testNetwork{
		local:      local,
		remote:     remote,
		localKeys:  keystore.NewMemory(),
		remoteKeys: keystore.NewMemory(),
	}
	if err := n.localKeys.Add(remote.Address(), remote.PublicKey()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := n.remoteKeys.Add(local.Address(), local.PublicKey()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return n
}

func (n *testNetwork) newConnection() *Connection {
	return NewConnection(n.local, n.localKeys, Options{
		Clock: func() time.Time { return testNow },
	})
}

// remoteFrame builds a frame the remote peer would send us.
func (n *testNetwork) remoteFrame(t *testing.T, data string) ([]byte, *protocol.Packet) {
	t.Helper()

	p, err := protocol.NewPacket(protocol.MustParseAddress("30.40:1.1"), protocol.MustParseAddress("10.20:2.2"), []byte(data))
	if err != nil {
		t.Fatalf("NewPacket() error = %v", err)
	}
	frame, err := protocol.EncodeFrame(p, n.remote, testNow)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	return frame, p
}

// sentPackets decodes the frames written after the greeting.
func (n *testNetwork) sentPackets(t *testing.T, written []byte) []*protocol.Packet {
	t.Helper()

	greeting := len(protocol.EncodeGreeting(protocol.CurrentVersion, n.local.Address()))
	if len(written) < greeting {
		t.Fatalf("written %d bytes, shorter than greeting", len(written))
	}
	buf := written[greeting:]

	var packets []*protocol.Packet
	for len(buf) > 0 {
		if len(buf) == 1 && buf[0] == protocol.CloseMarker {
			break
		}
		p, consumed, err := protocol.DecodeFrame(buf, n.remoteKeys, testNow)
		if err != nil {
			t.Fatalf("DecodeFrame() error = %v", err)
		}
		packets = append(packets, p)
		buf = buf[consumed:]
	}
	return packets
}

func newPacket(t *testing.T, src, dst, data string) *protocol.Packet {
	t.Helper()
	p, err := protocol.NewPacket(protocol.MustParseAddress(src), protocol.MustParseAddress(dst), []byte(data))
	if err != nil {
		t.Fatalf("NewPacket() error = %v", err)
	}
	return p
}

// nextEvent returns a buffered event or fails the test.
func nextEvent(t *testing.T, conn *Connection) Event {
	t.Helper()

	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func openReady(t *testing.T, n *testNetwork) (*Connection, *fakeTransport) {
	t.Helper()

	conn := n.newConnection()
	tr := newFakeTransport()
	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	conn.HandleChunk([]byte{2, 0})
	if ev := nextEvent(t, conn); ev.Type != EventReady {
		t.Fatalf("event = %s, want ready", ev.Type)
	}
	return conn, tr
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateConnecting, "Connecting"},
		{StateAwaitingHandshakeReply, "AwaitingHandshakeReply"},
		{StateReady, "Ready"},
		{StateClosed, "Closed"},
		{ConnState(42), "Unknown(42)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}

	if !StateClosed.IsTerminal() || StateReady.IsTerminal() {
		t.Error("only StateClosed is terminal")
	}
}

func TestOpenSendsGreeting(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()

	if conn.State() != StateConnecting {
		t.Fatalf("initial state = %s", conn.State())
	}

	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	want := []byte{2, 0, 0x00, 0xA0, 0x14}
	if got := tr.Written(); string(got) != string(want) {
		t.Errorf("greeting = %x, want %x", got, want)
	}
	if conn.State() != StateAwaitingHandshakeReply {
		t.Errorf("state = %s, want AwaitingHandshakeReply", conn.State())
	}

	if err := conn.Open(newFakeTransport()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open() error = %v, want ErrAlreadyOpen", err)
	}
}

func TestOpenLegacyVersion(t *testing.T) {
	n := newTestNetwork(t)
	conn := NewConnection(n.local, n.localKeys, Options{Version: protocol.Version{Major: 1, Minor: 1}})
	tr := newFakeTransport()

	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := tr.Written(); got[0] != 1 || got[1] != 1 {
		t.Errorf("greeting version = %d.%d, want 1.1", got[0], got[1])
	}
}

func TestOpenWriteFailure(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()
	tr.writeErr = errors.New("disk on fire")

	if err := conn.Open(tr); err == nil {
		t.Fatal("Open() expected error")
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %s, want Closed", conn.State())
	}

	ev := nextEvent(t, conn)
	if ev.Type != EventClosed || ev.Err == nil {
		t.Errorf("event = %s (%v), want closed with error", ev.Type, ev.Err)
	}
}

func TestHandshakeRejected(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()

	if err := conn.Write(newPacket(t, "1.1", "30.40:5.5", "queued")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	conn.HandleChunk([]byte{0, 0, 1})

	ev := nextEvent(t, conn)
	if ev.Type != EventHandshakeError {
		t.Fatalf("event = %s, want handshake_error", ev.Type)
	}
	var hsErr *protocol.HandshakeError
	if !errors.As(ev.Err, &hsErr) || hsErr.Code != protocol.HandshakeCodeBadIdentity {
		t.Fatalf("event error = %v, want identity rejection", ev.Err)
	}
	if ev.Err.Error() != "peer does not recognize our identity" {
		t.Errorf("error message = %q", ev.Err.Error())
	}

	closed := nextEvent(t, conn)
	if closed.Type != EventClosed || !errors.Is(closed.Err, protocol.ErrHandshakeRejected) {
		t.Errorf("event = %s (%v), want closed with rejection", closed.Type, closed.Err)
	}

	if _, ok := <-conn.Events(); ok {
		t.Error("event channel should be closed after EventClosed")
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %s, want Closed", conn.State())
	}
	if !tr.IsClosed() {
		t.Error("transport should be closed")
	}
	if got := len(tr.Written()); got != 5 {
		t.Errorf("written %d bytes, want only the greeting", got)
	}
	if err := conn.Write(newPacket(t, "1.1", "2.2", "late")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Write() after rejection error = %v, want ErrConnectionClosed", err)
	}
}

func TestHandshakeReplyInPieces(t *testing.T) {
	tests := []struct {
		name      string
		chunks    [][]byte
		wantReady bool
	}{
		{"rejection byte by byte", [][]byte{{0}, {0}, {2}}, false},
		{"rejection then more", [][]byte{{0, 0}, {0, 9}}, false},
		{"accepted after zero", [][]byte{{0}, {5}}, true},
		{"accepted single chunk", [][]byte{{2, 0, 7, 7}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNetwork(t)
			conn := n.newConnection()
			if err := conn.Open(newFakeTransport()); err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			for i, chunk := range tt.chunks {
				if i < len(tt.chunks)-1 && conn.State() != StateAwaitingHandshakeReply {
					t.Fatalf("state after chunk %d = %s", i, conn.State())
				}
				conn.HandleChunk(chunk)
			}

			ev := nextEvent(t, conn)
			if tt.wantReady {
				if ev.Type != EventReady || conn.State() != StateReady {
					t.Errorf("event = %s, state = %s; want ready", ev.Type, conn.State())
				}
				return
			}
			if ev.Type != EventHandshakeError || conn.State() != StateClosed {
				t.Errorf("event = %s, state = %s; want handshake error", ev.Type, conn.State())
			}
		})
	}
}

func TestHandshakeClosedBeforeCode(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()
	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	conn.HandleChunk([]byte{0, 0})
	if conn.State() != StateAwaitingHandshakeReply {
		t.Fatalf("state = %s, want AwaitingHandshakeReply", conn.State())
	}
	conn.HandleClosed(io.EOF)

	ev := nextEvent(t, conn)
	var hsErr *protocol.HandshakeError
	if ev.Type != EventHandshakeError || !errors.As(ev.Err, &hsErr) || hsErr.Code != protocol.HandshakeCodeMissing {
		t.Fatalf("event = %s (%v), want handshake error without code", ev.Type, ev.Err)
	}

	closed := nextEvent(t, conn)
	if closed.Type != EventClosed || !errors.Is(closed.Err, protocol.ErrHandshakeRejected) {
		t.Errorf("event = %s (%v), want closed with rejection", closed.Type, closed.Err)
	}
	if !tr.IsClosed() {
		t.Error("transport should be closed")
	}
}

func TestHandshakeClosedAfterSingleZero(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	if err := conn.Open(newFakeTransport()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	conn.HandleChunk([]byte{0})
	conn.HandleClosed(io.EOF)

	ev := nextEvent(t, conn)
	if ev.Type != EventClosed || ev.Err != nil {
		t.Errorf("event = %s (%v), want clean close", ev.Type, ev.Err)
	}
}

func TestReadyFlushesPendingInOrder(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()

	p1 := newPacket(t, "1.1", "30.40:5.5", "first")
	p2 := newPacket(t, "2.2", "30.40:5.5", "second")
	p3 := newPacket(t, "3.3", "30.40:5.5", "third")

	// One write before the transport exists, two while awaiting the reply.
	if err := conn.Write(p1); err != nil {
		t.Fatalf("Write(p1) error = %v", err)
	}
	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := conn.Write(p2); err != nil {
		t.Fatalf("Write(p2) error = %v", err)
	}
	if err := conn.Write(p3); err != nil {
		t.Fatalf("Write(p3) error = %v", err)
	}

	if conn.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", conn.Pending())
	}
	if got := len(tr.Written()); got != 5 {
		t.Fatalf("written %d bytes before Ready, want only the greeting", got)
	}

	conn.HandleChunk([]byte{2, 0})

	if ev := nextEvent(t, conn); ev.Type != EventReady {
		t.Fatalf("event = %s, want ready", ev.Type)
	}
	if conn.Pending() != 0 {
		t.Errorf("Pending() = %d after Ready", conn.Pending())
	}

	sent := n.sentPackets(t, tr.Written())
	want := []string{"first", "second", "third"}
	if len(sent) != len(want) {
		t.Fatalf("sent %d packets, want %d", len(sent), len(want))
	}

	for i, p := range sent {
		if string(p.Data()) != want[i] {
			t.Errorf("packet %d = %q, want %q", i, p.Data(), want[i])
		}
		ext, ok := p.Source().External()
		if !ok || ext.String() != "10.20" {
			t.Errorf("packet %d source = %s, want external 10.20", i, p.Source())
		}
	}
	if sent[1].Source().Internal().String() != "2.2" {
		t.Errorf("internal source changed: %s", sent[1].Source())
	}
}

func TestWriteWhenReadySendsImmediately(t *testing.T) {
	n := newTestNetwork(t)
	conn, tr := openReady(t, n)

	p := newPacket(t, "9.9:4.4", "30.40:5.5", "now")
	if err := conn.Write(p); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	sent := n.sentPackets(t, tr.Written())
	if len(sent) != 1 {
		t.Fatalf("sent %d packets, want 1", len(sent))
	}
	if sent[0].Source().String() != "10.20:4.4" {
		t.Errorf("source = %s, want 10.20:4.4", sent[0].Source())
	}
	if p.Source().String() != "9.9:4.4" {
		t.Errorf("caller packet modified: %s", p.Source())
	}
}

func TestReassemblySplitChunks(t *testing.T) {
	n := newTestNetwork(t)
	frame, want := n.remoteFrame(t, "split across chunks")

	for _, split := range []int{1, 2, 13, 14, 15, len(frame) / 2, len(frame) - 9, len(frame) - 1} {
		t.Run(fmt.Sprintf("split at %d", split), func(t *testing.T) {
			conn, _ := openReady(t, n)

			conn.HandleChunk(frame[:split])
			if _, ok := conn.Read(); ok {
				t.Fatal("Read() returned a packet from a partial frame")
			}

			conn.HandleChunk(frame[split:])

			ev := nextEvent(t, conn)
			if ev.Type != EventData {
				t.Fatalf("event = %s (%v), want data", ev.Type, ev.Err)
			}
			if !ev.Packet.Equal(want) {
				t.Errorf("packet = %s, want %s", ev.Packet, want)
			}

			got, ok := conn.Read()
			if !ok || !got.Equal(want) {
				t.Errorf("Read() = %v, %v", got, ok)
			}
			if _, ok := conn.Read(); ok {
				t.Error("Read() returned more than one packet")
			}
		})
	}
}

func TestReassemblyConcatenatedFrames(t *testing.T) {
	n := newTestNetwork(t)
	conn, _ := openReady(t, n)

	f1, p1 := n.remoteFrame(t, "one")
	f2, p2 := n.remoteFrame(t, "two")
	f3, p3 := n.remoteFrame(t, "three")

	chunk := append(append(append([]byte(nil), f1...), f2...), f3[:10]...)
	conn.HandleChunk(chunk)

	for i, want := range []*protocol.Packet{p1, p2} {
		ev := nextEvent(t, conn)
		if ev.Type != EventData || !ev.Packet.Equal(want) {
			t.Fatalf("event %d = %s %v, want data %s", i, ev.Type, ev.Packet, want)
		}
	}

	conn.HandleChunk(f3[10:])
	if ev := nextEvent(t, conn); ev.Type != EventData || !ev.Packet.Equal(p3) {
		t.Fatalf("event = %s %v, want data %s", ev.Type, ev.Packet, p3)
	}

	for i, want := range []string{"one", "two", "three"} {
		p, ok := conn.Read()
		if !ok || string(p.Data()) != want {
			t.Errorf("Read() %d = %v, %v; want %q", i, p, ok, want)
		}
	}
	if _, ok := conn.Read(); ok {
		t.Error("Read() should report no packets left")
	}
}

func TestRejectedFramesAreSkipped(t *testing.T) {
	n := newTestNetwork(t)
	conn, _ := openReady(t, n)

	strangerKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	stranger, err := protocol.ParseIdentity("77.77", strangerKey)
	if err != nil {
		t.Fatalf("ParseIdentity() error = %v", err)
	}

	unknown, err := protocol.EncodeFrame(newPacket(t, "77.77:1.1", "10.20:2.2", "who"), stranger, testNow)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	stale, err := protocol.EncodeFrame(newPacket(t, "30.40:1.1", "10.20:2.2", "old"), n.remote, testNow.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	forged, _ := n.remoteFrame(t, "forged")
	forged[protocol.FrameHeaderSize] ^= 0xFF
	good, want := n.remoteFrame(t, "legit")

	var stream []byte
	for _, f := range [][]byte{unknown, stale, forged, good} {
		stream = append(stream, f...)
	}
	conn.HandleChunk(stream)

	wantErrs := []error{protocol.ErrUnknownSigner, protocol.ErrReplayRejected, protocol.ErrBadSignature}
	for _, wantErr := range wantErrs {
		ev := nextEvent(t, conn)
		if ev.Type != EventRejected || !errors.Is(ev.Err, wantErr) {
			t.Fatalf("event = %s (%v), want rejected %v", ev.Type, ev.Err, wantErr)
		}
	}

	ev := nextEvent(t, conn)
	if ev.Type != EventData || !ev.Packet.Equal(want) {
		t.Fatalf("event = %s, want data %s", ev.Type, want)
	}
	if conn.State() != StateReady {
		t.Errorf("state = %s, rejections must not close the connection", conn.State())
	}
}

func TestBurstDeliversEveryFrame(t *testing.T) {
	const frames = DefaultEventBuffer + 44

	n := newTestNetwork(t)
	conn, _ := openReady(t, n)

	var chunk []byte
	for i := 0; i < frames; i++ {
		f, _ := n.remoteFrame(t, fmt.Sprintf("burst-%03d", i))
		chunk = append(chunk, f...)
	}

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		conn.HandleChunk(chunk)
	}()

	for i := 0; i < frames; i++ {
		ev := nextEvent(t, conn)
		if ev.Type != EventData {
			t.Fatalf("event %d = %s, want data", i, ev.Type)
		}
		if want := fmt.Sprintf("burst-%03d", i); string(ev.Packet.Data()) != want {
			t.Fatalf("event %d data = %q, want %q", i, ev.Packet.Data(), want)
		}
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleChunk did not return after events were consumed")
	}

	read := 0
	for {
		if _, ok := conn.Read(); !ok {
			break
		}
		read++
	}
	if read != frames {
		t.Errorf("Read() returned %d packets, want %d", read, frames)
	}
}

func TestCloseUnblocksSlowConsumer(t *testing.T) {
	n := newTestNetwork(t)
	conn := NewConnection(n.local, n.localKeys, Options{
		Clock:       func() time.Time { return testNow },
		EventBuffer: 1,
	})
	if err := conn.Open(newFakeTransport()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	conn.HandleChunk([]byte{1})

	var chunk []byte
	for _, data := range []string{"a", "b", "c"} {
		f, _ := n.remoteFrame(t, data)
		chunk = append(chunk, f...)
	}

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		conn.HandleChunk(chunk)
	}()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleChunk still blocked after Close")
	}

	var last Event
	for ev := range conn.Events() {
		last = ev
	}
	if last.Type != EventClosed {
		t.Errorf("last event = %s, want closed", last.Type)
	}
}

func TestInboxDropsOldest(t *testing.T) {
	n := newTestNetwork(t)
	conn := NewConnection(n.local, n.localKeys, Options{
		Clock:     func() time.Time { return testNow },
		InboxSize: 2,
	})
	if err := conn.Open(newFakeTransport()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	conn.HandleChunk([]byte{1})

	for _, data := range []string{"a", "b", "c"} {
		f, _ := n.remoteFrame(t, data)
		conn.HandleChunk(f)
	}

	for _, want := range []string{"b", "c"} {
		p, ok := conn.Read()
		if !ok || string(p.Data()) != want {
			t.Errorf("Read() = %v, %v; want %q", p, ok, want)
		}
	}
}

func TestCloseWritesMarker(t *testing.T) {
	n := newTestNetwork(t)
	conn, tr := openReady(t, n)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	written := tr.Written()
	if written[len(written)-1] != protocol.CloseMarker {
		t.Errorf("last byte = %d, want close marker", written[len(written)-1])
	}
	if !tr.IsClosed() {
		t.Error("transport should be closed")
	}

	ev := nextEvent(t, conn)
	if ev.Type != EventClosed || ev.Err != nil {
		t.Errorf("event = %s (%v), want clean close", ev.Type, ev.Err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := conn.Write(newPacket(t, "1.1", "2.2", "x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Write() after Close error = %v", err)
	}
}

func TestCloseBeforeReadySkipsMarker(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()
	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(tr.Written()); got != 5 {
		t.Errorf("written %d bytes, want only the greeting", got)
	}
}

func TestHandleClosed(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"eof", io.EOF, nil},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), nil},
		{"unexpected", boom, boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNetwork(t)
			conn, tr := openReady(t, n)

			conn.HandleClosed(tt.err)
			conn.HandleClosed(tt.err)

			ev := nextEvent(t, conn)
			if ev.Type != EventClosed || !errors.Is(ev.Err, tt.wantErr) || (tt.wantErr == nil && ev.Err != nil) {
				t.Errorf("event = %s (%v), want closed (%v)", ev.Type, ev.Err, tt.wantErr)
			}
			if !tr.IsClosed() {
				t.Error("transport should be closed")
			}
		})
	}
}

func TestRunLoop(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	tr := newFakeTransport()

	if err := conn.Run(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Run() before Open error = %v, want ErrNotOpen", err)
	}
	if err := conn.Open(tr); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	frame, want := n.remoteFrame(t, "over the wire")
	if _, err := tr.pw.Write([]byte{2, 0}); err != nil {
		t.Fatalf("pipe write error = %v", err)
	}
	if ev := nextEvent(t, conn); ev.Type != EventReady {
		t.Fatalf("event = %s, want ready", ev.Type)
	}

	if _, err := tr.pw.Write(frame[:20]); err != nil {
		t.Fatalf("pipe write error = %v", err)
	}
	if _, err := tr.pw.Write(frame[20:]); err != nil {
		t.Fatalf("pipe write error = %v", err)
	}
	if ev := nextEvent(t, conn); ev.Type != EventData || !ev.Packet.Equal(want) {
		t.Fatalf("event = %s, want data", ev.Type)
	}

	tr.pw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on remote EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after remote close")
	}

	if ev := nextEvent(t, conn); ev.Type != EventClosed || ev.Err != nil {
		t.Errorf("event = %s (%v), want clean close", ev.Type, ev.Err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	n := newTestNetwork(t)
	conn := n.newConnection()
	if err := conn.Open(newFakeTransport()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %s, want Closed", conn.State())
	}
}

func TestIsBenign(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"eof", io.EOF, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"net closed", net.ErrClosed, true},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, true},
		{"other", errors.New("certificate expired"), false},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
	}

	for _, tt := range tests {
		if got := IsBenign(tt.err); got != tt.want {
			t.Errorf("IsBenign(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{20, time.Second},
	}

	for _, tt := range tests {
		got := b.Delay(tt.attempt)
		low := time.Duration(float64(tt.want) * 0.9)
		high := time.Duration(float64(tt.want) * 1.1)
		if got < low || got > high {
			t.Errorf("Delay(%d) = %v, want %v ±10%%", tt.attempt, got, tt.want)
		}
	}
}
