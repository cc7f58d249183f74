// Package headersync implements the header-first synchronization session: a
// sequential connect/negotiate/download loop that extends the node's header
// chain to a verified stop checkpoint, retrying indefinitely with a decaying
// minimum-rate floor until it succeeds or is stopped from outside.
package headersync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/chain"
	"github.com/bitharbor/harbor-node/libs/stopsignal"
	"github.com/bitharbor/harbor-node/p2p"
)

const (
	// backOffFactor decays the minimum rate after each failed download
	// attempt; must be < 1.0.
	backOffFactor = 0.75

	// startingHeadersPerSecond is the initial minimum header download
	// rate. It backs off exponentially so a slow peer is eventually
	// acceptable rather than looping forever against an unreachable
	// target.
	startingHeadersPerSecond = 10000
)

// sessionState enumerates the driver loop's states. Each non-terminal state
// has one transition function; the loop runs them until a terminal state.
type sessionState int

const (
	stateStarted sessionState = iota
	stateConnecting
	stateNegotiating
	stateSyncing
	stateRetrying
	stateCompleted
	stateStopped
)

// Session synchronizes block headers from a single outbound peer at a time.
//
// The session resolves its download range once at start, seeds the header
// queue, then loops: connect, negotiate, attach protocols, await the
// download result. Failures of any network flavor are absorbed and retried
// with the same connector; only success or a fatal initialization error
// reaches the completion handler, and the shared stop signal suspends the
// loop silently at the next attempt.
type Session struct {
	service.BaseService

	connector   p2p.Connector
	queue       *HeaderQueue
	reader      chain.Reader
	checkpoints chain.CheckpointSet
	stopSignal  *stopsignal.Signal
	metrics     *Metrics

	protocolVersion  int32
	handshakeTimeout time.Duration
	pingInterval     time.Duration

	minimumRate uint32
	target      chain.Checkpoint

	handler     func(error)
	handlerOnce sync.Once

	channel    p2p.Channel
	completeCh chan error

	// Seams for tests; production defaults are set by NewSession.
	negotiate     func(ch p2p.Channel) error
	startDownload downloadStarter
}

var _ service.Service = (*Session)(nil)

// SessionOption sets an optional parameter on the Session.
type SessionOption func(*Session)

// WithMetrics sets the session's metrics collector.
func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithProtocolVersion sets the maximum protocol version advertised during
// handshake.
func WithProtocolVersion(version int32) SessionOption {
	return func(s *Session) { s.protocolVersion = version }
}

// WithHandshakeTimeout bounds the version negotiation on each connection.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithPingInterval sets the keepalive interval for attached channels.
func WithPingInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pingInterval = d }
}

// NewSession returns an unstarted header sync session. The queue must be
// empty; checkpoints need not be sorted.
func NewSession(
	connector p2p.Connector,
	queue *HeaderQueue,
	reader chain.Reader,
	checkpoints []chain.Checkpoint,
	stopSignal *stopsignal.Signal,
	options ...SessionOption,
) *Session {
	s := &Session{
		connector:       connector,
		queue:           queue,
		reader:          reader,
		checkpoints:     chain.NewCheckpointSet(checkpoints),
		stopSignal:      stopSignal,
		metrics:         NopMetrics(),
		protocolVersion: int32(wire.ProtocolVersion),
		minimumRate:     startingHeadersPerSecond,
		completeCh:      make(chan error, 1),
	}
	s.negotiate = s.runHandshake
	s.startDownload = startDownloadProtocol
	s.BaseService = *service.NewBaseService(nil, "HeaderSyncSession", s)

	for _, option := range options {
		option(s)
	}
	return s
}

// Sync begins the sync sequence. handler is invoked exactly once with the
// final result: nil when the chain has reached the target, or a fatal
// initialization error. It is never invoked when the session is suspended
// by the stop signal.
func (s *Session) Sync(handler func(error)) error {
	s.handler = handler
	return s.BaseService.Start()
}

// OnStart implements service.Service.
func (s *Session) OnStart() error {
	go s.run()
	return nil
}

// OnStop implements service.Service.
func (s *Session) OnStop() {}

// MinimumRate returns the current minimum acceptable download rate.
func (s *Session) MinimumRate() uint32 {
	return s.minimumRate
}

// run is the driver loop: one transition function per state, terminal on
// completion or stop.
func (s *Session) run() {
	s.metrics.Syncing.Set(1)
	defer s.metrics.Syncing.Set(0)

	state := stateStarted
	for {
		switch state {
		case stateStarted:
			state = s.onStarted()
		case stateConnecting:
			state = s.onConnecting()
		case stateNegotiating:
			state = s.onNegotiating()
		case stateSyncing:
			state = s.onSyncing()
		case stateRetrying:
			state = s.onRetrying()
		case stateCompleted, stateStopped:
			return
		}
	}
}

// onStarted resolves the sync range and seeds the queue. It is the only
// state that can fail the session.
func (s *Session) onStarted() sessionState {
	if !s.queue.Empty() {
		s.Logger.Error("Header hash queue must not be initialized")
		return s.complete(errors.Wrap(ErrOperationFailed, "header queue not empty"))
	}

	seed, stop, err := resolveRange(s.reader, s.checkpoints)
	if err != nil {
		s.Logger.Error("Error getting header sync range", "err", err)
		return s.complete(err)
	}

	if seed == stop {
		// Already synced; no network activity needed.
		return s.complete(nil)
	}

	s.target = stop
	s.queue.Initialize(seed)
	s.metrics.RateFloor.Set(float64(s.minimumRate))

	s.Logger.Info("Getting headers",
		"first", seed.Height+1,
		"stop", stop.Height)
	return stateConnecting
}

// onConnecting checks for a pending stop, then attempts one connection with
// the session's single connector.
func (s *Session) onConnecting() sessionState {
	if s.stopped() {
		s.Logger.Debug("Suspending header sync session")
		return stateStopped
	}

	s.metrics.ConnectAttempts.Add(1)
	ch, err := s.connector.Connect(context.Background())
	if err != nil {
		s.Logger.Debug("Failure connecting header sync channel", "err", err)
		return stateConnecting
	}

	s.Logger.Debug("Connected to header sync channel", "peer", ch.RemoteAddr())

	if err := ch.Start(); err != nil {
		// A start failure is treated just like a completion failure.
		s.Logger.Debug("Failure starting header sync channel", "peer", ch.RemoteAddr(), "err", err)
		if err := ch.Stop(); err != nil {
			s.Logger.Debug("Error stopping header sync channel", "err", err)
		}
		return stateRetrying
	}

	s.channel = ch
	go s.watchChannel(ch)
	return stateNegotiating
}

// onNegotiating runs the version handshake. Failure feeds the same retry
// path as a download failure.
func (s *Session) onNegotiating() sessionState {
	if err := s.negotiate(s.channel); err != nil {
		s.Logger.Debug("Failure in header sync handshake",
			"peer", s.channel.RemoteAddr(),
			"err", err)
		s.disconnect()
		return stateRetrying
	}
	return stateSyncing
}

// onSyncing attaches the per-channel protocols and blocks until the
// download protocol reports its result.
func (s *Session) onSyncing() sessionState {
	ch := s.channel

	version := ch.NegotiatedVersion()
	if version < p2p.HeadersMinVersion {
		panic(fmt.Sprintf("negotiated version %d below headers minimum %d",
			version, p2p.HeadersMinVersion))
	}

	p2p.NewPingProtocol(ch, s.pingInterval, version >= int32(wire.BIP0031Version), s.Logger).Start()
	p2p.NewAddressProtocol(ch, s.Logger).Start()

	s.startDownload(ch, s.queue, s.minimumRate, s.target, s.Logger, s.metrics, func(err error) {
		select {
		case s.completeCh <- err:
		default:
		}
	})

	err := <-s.completeCh
	s.disconnect()
	if err != nil {
		s.Logger.Debug("Header download failed", "err", err)
		return stateRetrying
	}

	s.Logger.Info("Header sync complete",
		"height", s.target.Height,
		"headers", s.queue.Size()-1)
	return s.complete(nil)
}

// onRetrying reduces the rate minimum so the session doesn't get hung up,
// then reconnects. There is no failure path that terminates the session.
func (s *Session) onRetrying() sessionState {
	s.minimumRate = uint32(float64(s.minimumRate) * backOffFactor)
	s.metrics.RateFloor.Set(float64(s.minimumRate))
	s.metrics.RetriedDownloads.Add(1)

	s.Logger.Debug("Retrying header sync", "rate_floor", s.minimumRate)
	return stateConnecting
}

// complete invokes the handler exactly once and terminates the loop.
func (s *Session) complete(err error) sessionState {
	s.handlerOnce.Do(func() { s.handler(err) })
	return stateCompleted
}

// stopped reports whether the shared stop signal fired or the service was
// stopped. Checked only between attempts; an attempt in flight runs to
// completion first.
func (s *Session) stopped() bool {
	if s.stopSignal.Tripped() {
		return true
	}
	select {
	case <-s.Quit():
		return true
	default:
		return false
	}
}

// watchChannel logs channel-stop notifications. A channel may stop for
// reasons orthogonal to sync progress (a ping timeout, say); retry is
// driven solely by the download protocol's completion.
func (s *Session) watchChannel(ch p2p.Channel) {
	<-ch.Done()
	s.Logger.Debug("Header sync channel stopped",
		"peer", ch.RemoteAddr(),
		"err", ch.Err())
}

func (s *Session) runHandshake(ch p2p.Channel) error {
	// Don't use configured services, relay or min version for header sync.
	return p2p.Negotiate(ch, p2p.HandshakeConfig{
		OwnVersion:  s.protocolVersion,
		OwnServices: 0,
		MinVersion:  p2p.HeadersMinVersion,
		MinServices: wire.SFNodeNetwork,
		Relay:       false,
		Timeout:     s.handshakeTimeout,
	}, s.Logger)
}

func (s *Session) disconnect() {
	if s.channel == nil {
		return
	}
	if err := s.channel.Stop(); err != nil {
		s.Logger.Debug("Error stopping header sync channel", "err", err)
	}
	s.channel = nil
}
