package p2p

import (
	"context"
	"net"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/pkg/errors"
)

// ConnectorConfig carries the dial and framing settings a connector applies
// to every channel it creates.
type ConnectorConfig struct {
	// Magic identifies the network in the wire framing.
	Magic wire.BitcoinNet

	// ProtocolVersion is our maximum supported protocol version; new
	// channels start negotiated at this value.
	ProtocolVersion int32

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// TCPConnector dials a fixed peer address. The same connector instance is
// reused across reconnect attempts so dial configuration is set up once.
type TCPConnector struct {
	addr   string
	cfg    ConnectorConfig
	logger log.Logger
}

var _ Connector = (*TCPConnector)(nil)

// NewTCPConnector returns a connector for the given "host:port" address.
func NewTCPConnector(addr string, cfg ConnectorConfig, logger log.Logger) *TCPConnector {
	return &TCPConnector{addr: addr, cfg: cfg, logger: logger}
}

// Addr returns the peer address this connector dials.
func (c *TCPConnector) Addr() string {
	return c.addr
}

// Connect implements Connector.
func (c *TCPConnector) Connect(ctx context.Context) (Channel, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", c.addr)
	}
	return NewChannel(conn, c.cfg.Magic, c.cfg.ProtocolVersion, c.logger.With("peer", c.addr)), nil
}
