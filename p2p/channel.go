package p2p

import (
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/pkg/errors"
)

const (
	sendQueueSize = 64
	writeTimeout  = 30 * time.Second
)

// ErrChannelStopped is returned by Send once the channel has shut down.
var ErrChannelStopped = errors.New("channel stopped")

type subscription struct {
	id      int
	handler MessageHandler
}

// tcpChannel is a Channel over a TCP connection speaking the bitcoin wire
// framing. Messages are read on a single receive goroutine and dispatched
// synchronously to subscribers; sends are serialized through a queue.
type tcpChannel struct {
	service.BaseService

	conn  net.Conn
	magic wire.BitcoinNet

	mtx        sync.RWMutex
	negotiated int32

	subMtx  sync.RWMutex
	subs    map[string][]subscription
	nextSub int

	sendCh chan wire.Message

	errOnce sync.Once
	stopErr error
}

// NewChannel wraps conn in a started-on-demand Channel. The negotiated
// version starts at protocolVersion, the configured maximum.
func NewChannel(conn net.Conn, magic wire.BitcoinNet, protocolVersion int32, logger log.Logger) Channel {
	c := &tcpChannel{
		conn:       conn,
		magic:      magic,
		negotiated: protocolVersion,
		subs:       make(map[string][]subscription),
		sendCh:     make(chan wire.Message, sendQueueSize),
	}
	c.BaseService = *service.NewBaseService(logger, "Channel", c)
	return c
}

// OnStart implements service.Service.
func (c *tcpChannel) OnStart() error {
	go c.readLoop()
	go c.sendLoop()
	return nil
}

// OnStop implements service.Service.
func (c *tcpChannel) OnStop() {
	if err := c.conn.Close(); err != nil {
		c.Logger.Debug("Error closing connection", "peer", c.RemoteAddr(), "err", err)
	}
}

func (c *tcpChannel) Done() <-chan struct{} {
	return c.Quit()
}

func (c *tcpChannel) Err() error {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.stopErr
}

func (c *tcpChannel) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpChannel) NegotiatedVersion() int32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.negotiated
}

func (c *tcpChannel) SetNegotiatedVersion(version int32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.negotiated = version
}

func (c *tcpChannel) Send(msg wire.Message) error {
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.Quit():
		return ErrChannelStopped
	}
}

func (c *tcpChannel) Subscribe(command string, h MessageHandler) func() {
	c.subMtx.Lock()
	defer c.subMtx.Unlock()

	c.nextSub++
	id := c.nextSub
	c.subs[command] = append(c.subs[command], subscription{id: id, handler: h})

	return func() {
		c.subMtx.Lock()
		defer c.subMtx.Unlock()
		subs := c.subs[command]
		for i, sub := range subs {
			if sub.id == id {
				c.subs[command] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (c *tcpChannel) readLoop() {
	for {
		msg, _, err := wire.ReadMessage(c.conn, uint32(c.NegotiatedVersion()), c.magic)
		if err != nil {
			// Unknown commands from newer peers are skipped, not fatal.
			if _, ok := err.(*wire.MessageError); ok && c.IsRunning() {
				c.Logger.Debug("Skipping unreadable message", "peer", c.RemoteAddr(), "err", err)
				continue
			}
			c.fail(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *tcpChannel) dispatch(msg wire.Message) {
	c.subMtx.RLock()
	subs := make([]subscription, len(c.subs[msg.Command()]))
	copy(subs, c.subs[msg.Command()])
	c.subMtx.RUnlock()

	if len(subs) == 0 {
		c.Logger.Debug("No subscriber for message", "peer", c.RemoteAddr(), "command", msg.Command())
		return
	}
	for _, sub := range subs {
		sub.handler(msg)
	}
}

func (c *tcpChannel) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := wire.WriteMessage(c.conn, msg, uint32(c.NegotiatedVersion()), c.magic); err != nil {
				c.fail(err)
				return
			}
		case <-c.Quit():
			return
		}
	}
}

// fail records the first stop reason and shuts the channel down.
func (c *tcpChannel) fail(err error) {
	c.errOnce.Do(func() {
		c.mtx.Lock()
		c.stopErr = err
		c.mtx.Unlock()
	})
	if c.IsRunning() {
		if err := c.Stop(); err != nil {
			c.Logger.Debug("Error stopping channel", "err", err)
		}
	}
}
