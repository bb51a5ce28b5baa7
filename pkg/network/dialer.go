package network

import (
	"context"
	"fmt"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// DefaultDialTimeout bounds a single TCP connect.
const DefaultDialTimeout = 10 * time.Second

// Dial connects to target, sends the greeting and starts the read loop.
// ctx only bounds the connect; the returned connection lives until it is
// closed or the peer goes away.
func Dial(ctx context.Context, target ma.Multiaddr, id *protocol.Identity, keys protocol.KeyResolver, opts Options) (*Connection, error) {
	d := manet.Dialer{Dialer: net.Dialer{Timeout: DefaultDialTimeout}}

	nc, err := d.DialContext(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}

	conn := NewConnection(id, keys, opts)
	if err := conn.Open(nc); err != nil {
		return nil, err
	}

	conn.log.Debug("dialed peer", zap.Stringer("target", target))

	go func() {
		if err := conn.Run(context.WithoutCancel(ctx)); err != nil {
			conn.log.Warn("read loop ended", zap.Stringer("target", target), zap.Error(err))
		}
	}()

	return conn, nil
}
