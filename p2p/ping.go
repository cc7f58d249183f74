package p2p

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
)

// defaultPingInterval is how often a keepalive ping is sent.
const defaultPingInterval = 2 * time.Minute

// PingProtocol keeps a channel alive and answers peer pings. Peers past the
// BIP31 version carry a nonce and expect a matching pong; older peers get
// the nonce-less exchange. Fire-and-forget: it runs until the channel stops.
type PingProtocol struct {
	ch       Channel
	interval time.Duration
	nonced   bool
	logger   log.Logger
}

// NewPingProtocol returns a ping protocol for ch. nonced selects the BIP31
// variant. A zero interval means the default.
func NewPingProtocol(ch Channel, interval time.Duration, nonced bool, logger log.Logger) *PingProtocol {
	if interval == 0 {
		interval = defaultPingInterval
	}
	return &PingProtocol{ch: ch, interval: interval, nonced: nonced, logger: logger}
}

// Start attaches the protocol to the channel.
func (p *PingProtocol) Start() {
	p.ch.Subscribe(wire.CmdPing, p.handlePing)
	go p.loop()
}

func (p *PingProtocol) handlePing(msg wire.Message) {
	if !p.nonced {
		// Pre-BIP31 pings carry no nonce and expect no pong.
		return
	}
	ping, ok := msg.(*wire.MsgPing)
	if !ok {
		return
	}
	if err := p.ch.Send(wire.NewMsgPong(ping.Nonce)); err != nil {
		p.logger.Debug("Failed to send pong", "peer", p.ch.RemoteAddr(), "err", err)
	}
}

func (p *PingProtocol) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var nonce uint64
			if p.nonced {
				var err error
				if nonce, err = wire.RandomUint64(); err != nil {
					p.logger.Error("Failed to generate ping nonce", "err", err)
					continue
				}
			}
			if err := p.ch.Send(wire.NewMsgPing(nonce)); err != nil {
				return
			}
		case <-p.ch.Done():
			return
		}
	}
}
