// Package p2p provides the outbound transport the sync session runs over: a
// connector that dials a configured peer, a message-oriented channel with
// per-command subscription, and the per-channel protocols (version
// handshake, ping, address relay) attached after a connection is made.
package p2p

import (
	"context"

	"github.com/btcsuite/btcd/wire"
)

// HeadersMinVersion is the lowest wire protocol version able to serve
// getheaders requests.
const HeadersMinVersion int32 = 31800

// MessageHandler consumes one wire message delivered on a channel. Handlers
// run on the channel's receive goroutine and must not block.
type MessageHandler func(msg wire.Message)

// Connector establishes outbound channels to a sync peer. A single connector
// keeps its identity across reconnect attempts.
type Connector interface {
	// Connect dials the peer and returns an unstarted channel. The channel
	// has not been handshaked; its negotiated version is the configured
	// maximum until the version exchange lowers it.
	Connect(ctx context.Context) (Channel, error)
}

// Channel is a link to a single peer carrying wire messages.
type Channel interface {
	// Start begins the channel's read and write loops.
	Start() error

	// Stop tears the channel down and closes the connection.
	Stop() error

	// Done is closed once the channel has stopped, for any reason.
	Done() <-chan struct{}

	// Err returns the reason the channel stopped, or nil for a clean stop.
	// Valid only after Done is closed.
	Err() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string

	// NegotiatedVersion returns the protocol version agreed with the peer.
	NegotiatedVersion() int32

	// SetNegotiatedVersion records the version agreed during handshake.
	SetNegotiatedVersion(version int32)

	// Send queues msg for delivery to the peer.
	Send(msg wire.Message) error

	// Subscribe registers h for messages with the given wire command and
	// returns a function removing the subscription.
	Subscribe(command string, h MessageHandler) (unsubscribe func())
}
