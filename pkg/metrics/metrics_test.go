package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

func TestNewDefaultNamespace(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := New("", registry)

	r.ConnectionOpened()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() == "gerti_connections_opened_total" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected metric with default namespace 'gerti'")
	}
}

func TestConnectionAndFrameCounters(t *testing.T) {
	r := New("test", prometheus.NewRegistry())

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed("remote")
	r.FrameSent(10)
	r.FrameSent(5)
	r.FrameReceived(7)
	r.PendingDelta(3)
	r.PendingDelta(-1)

	checks := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"opened", r.connectionsOpened, 2},
		{"closed remote", r.connectionsClosed.WithLabelValues("remote"), 1},
		{"frames sent", r.framesSent, 2},
		{"bytes sent", r.bytesSent, 15},
		{"frames received", r.framesReceived, 1},
		{"bytes received", r.bytesReceived, 7},
		{"pending", r.pendingPackets, 2},
	}

	for _, c := range checks {
		if got := testutil.ToFloat64(c.collector); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestHandshakeResults(t *testing.T) {
	r := New("test", prometheus.NewRegistry())

	r.HandshakeAccepted(20 * time.Millisecond)
	r.HandshakeFailed(protocol.HandshakeCodeBadIdentity)
	r.HandshakeFailed(9)
	r.HandshakeFailed(protocol.HandshakeCodeMissing)

	if got := testutil.ToFloat64(r.handshakeResults.WithLabelValues("accepted")); got != 1 {
		t.Errorf("accepted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.handshakeResults.WithLabelValues("identity")); got != 1 {
		t.Errorf("identity = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.handshakeResults.WithLabelValues("unknown")); got != 1 {
		t.Errorf("unknown = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.handshakeResults.WithLabelValues("missing")); got != 1 {
		t.Errorf("missing = %v, want 1", got)
	}
}

func TestRejectionLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: timestamp 1", protocol.ErrReplayRejected), "replay"},
		{protocol.ErrUnknownSigner, "unknown_signer"},
		{fmt.Errorf("%w: from 1.1", protocol.ErrBadSignature), "bad_signature"},
		{protocol.ErrMalformedFrame, "malformed"},
		{errors.New("other"), "malformed"},
	}

	for _, tt := range tests {
		if got := RejectionLabel(tt.err); got != tt.want {
			t.Errorf("RejectionLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	r := New("test", prometheus.NewRegistry())
	r.FrameRejected(protocol.ErrUnknownSigner)
	if got := testutil.ToFloat64(r.framesRejected.WithLabelValues("unknown_signer")); got != 1 {
		t.Errorf("unknown_signer = %v, want 1", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder

	r.ConnectionOpened()
	r.ConnectionClosed("local")
	r.HandshakeAccepted(time.Second)
	r.HandshakeFailed(0)
	r.FrameSent(1)
	r.FrameReceived(1)
	r.FrameRejected(protocol.ErrBadSignature)
	r.PendingDelta(1)
}

func TestUnregisteredRecorder(t *testing.T) {
	r := New("test", nil)
	r.ConnectionOpened()

	if got := testutil.ToFloat64(r.connectionsOpened); got != 1 {
		t.Errorf("opened = %v, want 1", got)
	}
}
