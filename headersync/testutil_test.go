package headersync

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/chain"
	"github.com/bitharbor/harbor-node/p2p"
)

// fakeChannel is a scripted p2p.Channel. onSend inspects outgoing messages
// and may deliver peer responses back through the subscriptions.
type fakeChannel struct {
	mtx        sync.Mutex
	negotiated int32
	subs       map[string][]p2p.MessageHandler
	sent       []wire.Message
	done       chan struct{}
	err        error
	startErr   error

	onSend func(c *fakeChannel, msg wire.Message)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		negotiated: int32(wire.ProtocolVersion),
		subs:       make(map[string][]p2p.MessageHandler),
		done:       make(chan struct{}),
	}
}

func (c *fakeChannel) Start() error { return c.startErr }

func (c *fakeChannel) Stop() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

func (c *fakeChannel) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }
func (c *fakeChannel) Err() error            { return c.err }
func (c *fakeChannel) RemoteAddr() string    { return "fake:8333" }

func (c *fakeChannel) NegotiatedVersion() int32 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.negotiated
}

func (c *fakeChannel) SetNegotiatedVersion(version int32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.negotiated = version
}

func (c *fakeChannel) Send(msg wire.Message) error {
	c.mtx.Lock()
	c.sent = append(c.sent, msg)
	onSend := c.onSend
	c.mtx.Unlock()
	if onSend != nil {
		onSend(c, msg)
	}
	return nil
}

func (c *fakeChannel) Subscribe(command string, h p2p.MessageHandler) func() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.subs[command] = append(c.subs[command], h)
	return func() {}
}

// deliver dispatches msg as if it arrived from the peer.
func (c *fakeChannel) deliver(msg wire.Message) {
	c.mtx.Lock()
	handlers := make([]p2p.MessageHandler, len(c.subs[msg.Command()]))
	copy(handlers, c.subs[msg.Command()])
	c.mtx.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// fakeConnector fails a scripted number of connection attempts, then hands
// out fake channels, the first startFailures of which refuse to start.
type fakeConnector struct {
	mtx           sync.Mutex
	failures      int
	startFailures int
	attempts      int
	channels      []*fakeChannel
}

var _ p2p.Connector = (*fakeConnector)(nil)

func (c *fakeConnector) Connect(context.Context) (p2p.Channel, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.attempts++
	if c.attempts <= c.failures {
		return nil, errors.New("connection refused")
	}
	ch := newFakeChannel()
	if len(c.channels) < c.startFailures {
		ch.startErr = errors.New("start failed")
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnector) attemptCount() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.attempts
}

// succeedDownload is a downloadStarter that completes immediately.
func succeedDownload(
	_ p2p.Channel,
	_ *HeaderQueue,
	_ uint32,
	_ chain.Checkpoint,
	_ log.Logger,
	_ *Metrics,
	done func(error),
) {
	done(nil)
}

// handlerRecorder records completion handler invocations.
type handlerRecorder struct {
	mtx   sync.Mutex
	calls []error
	ch    chan error
}

func newHandlerRecorder() *handlerRecorder {
	return &handlerRecorder{ch: make(chan error, 8)}
}

func (r *handlerRecorder) handle(err error) {
	r.mtx.Lock()
	r.calls = append(r.calls, err)
	r.mtx.Unlock()
	r.ch <- err
}

func (r *handlerRecorder) count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.calls)
}
