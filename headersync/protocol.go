package headersync

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/chain"
	"github.com/bitharbor/harbor-node/p2p"
)

// rateSampleInterval is how often the observed download rate is compared
// against the session's minimum.
const rateSampleInterval = 5 * time.Second

// downloadStarter attaches a header download protocol to a negotiated
// channel. done is invoked exactly once with the attempt's result. The
// session holds this as a seam so tests can script download outcomes.
type downloadStarter func(
	ch p2p.Channel,
	queue *HeaderQueue,
	minimumRate uint32,
	stop chain.Checkpoint,
	logger log.Logger,
	metrics *Metrics,
	done func(error),
)

// startDownloadProtocol is the production downloadStarter.
func startDownloadProtocol(
	ch p2p.Channel,
	queue *HeaderQueue,
	minimumRate uint32,
	stop chain.Checkpoint,
	logger log.Logger,
	metrics *Metrics,
	done func(error),
) {
	p := &downloadProtocol{
		ch:          ch,
		queue:       queue,
		stop:        stop,
		minimumRate: minimumRate,
		logger:      logger,
		metrics:     metrics,
		doneFn:      done,
		quit:        make(chan struct{}),
	}
	p.start()
}

// downloadProtocol drives one getheaders/headers exchange cycle against a
// single peer, filling the queue from its tip toward the stop checkpoint.
// It completes with nil once the stop is reached, or with an error when the
// peer is too slow, responds out of order, or the channel drops.
type downloadProtocol struct {
	ch          p2p.Channel
	queue       *HeaderQueue
	stop        chain.Checkpoint
	minimumRate uint32
	logger      log.Logger
	metrics     *Metrics

	doneOnce sync.Once
	doneFn   func(error)
	quit     chan struct{}

	mtx     sync.Mutex
	fetched int64
	started time.Time
}

func (p *downloadProtocol) start() {
	p.mtx.Lock()
	p.started = time.Now()
	p.mtx.Unlock()

	p.ch.Subscribe(wire.CmdHeaders, p.handleHeaders)
	go p.monitor()

	if err := p.requestNext(); err != nil {
		p.complete(err)
	}
}

// requestNext asks the peer for headers following the queue's current tip.
func (p *downloadProtocol) requestNext() error {
	last := p.queue.Last()

	msg := wire.NewMsgGetHeaders()
	msg.ProtocolVersion = uint32(p.ch.NegotiatedVersion())
	msg.HashStop = p.stop.Hash
	locator := last.Hash
	if err := msg.AddBlockLocatorHash(&locator); err != nil {
		return errors.Wrap(err, "building getheaders")
	}

	p.logger.Debug("Requesting headers",
		"peer", p.ch.RemoteAddr(),
		"from", last.Height+1,
		"stop", p.stop.Height)
	return p.ch.Send(msg)
}

func (p *downloadProtocol) handleHeaders(msg wire.Message) {
	m, ok := msg.(*wire.MsgHeaders)
	if !ok {
		return
	}
	if len(m.Headers) == 0 {
		p.complete(errors.New("peer has no headers for the requested range"))
		return
	}

	headers := m.Headers
	if room := p.stop.Height - p.queue.Last().Height; int64(len(headers)) > room {
		headers = headers[:room]
	}

	if err := p.queue.Enqueue(headers); err != nil {
		p.complete(errors.Wrap(err, "merging headers"))
		return
	}

	p.mtx.Lock()
	p.fetched += int64(len(headers))
	p.mtx.Unlock()
	p.metrics.HeadersFetched.Add(float64(len(headers)))

	last := p.queue.Last()
	if last.Height < p.stop.Height {
		if err := p.requestNext(); err != nil {
			p.complete(err)
		}
		return
	}

	if last.Hash != p.stop.Hash {
		p.complete(errors.Errorf("header at height %d does not match stop checkpoint %s",
			last.Height, p.stop))
		return
	}
	p.complete(nil)
}

// monitor enforces the minimum download rate and watches for the channel
// dropping out from under the protocol.
func (p *downloadProtocol) monitor() {
	ticker := time.NewTicker(rateSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mtx.Lock()
			elapsed := time.Since(p.started).Seconds()
			fetched := p.fetched
			p.mtx.Unlock()

			rate := float64(fetched) / elapsed
			p.metrics.SyncRate.Set(rate)
			if rate < float64(p.minimumRate) {
				p.complete(errors.Errorf("download rate %.0f below floor %d", rate, p.minimumRate))
				return
			}

		case <-p.ch.Done():
			err := p.ch.Err()
			if err == nil {
				err = p2p.ErrChannelStopped
			}
			p.complete(err)
			return

		case <-p.quit:
			return
		}
	}
}

func (p *downloadProtocol) complete(err error) {
	p.doneOnce.Do(func() {
		close(p.quit)
		p.doneFn(err)
	})
}
