package p2p

import (
	"net"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/pkg/errors"

	"github.com/bitharbor/harbor-node/version"
)

const (
	defaultHandshakeTimeout = 15 * time.Second

	agentName = "harbornode"
)

// HandshakeConfig controls the version negotiation run on a new channel.
// The sync session deliberately minimizes its footprint: no relay, no
// advertised services, and a getheaders-capable minimum peer version.
type HandshakeConfig struct {
	// OwnVersion is the protocol version we advertise.
	OwnVersion int32

	// OwnServices are the services we advertise.
	OwnServices wire.ServiceFlag

	// MinVersion is the lowest peer version we accept.
	MinVersion int32

	// MinServices are the services the peer must provide.
	MinServices wire.ServiceFlag

	// Relay asks the peer to relay transactions to us.
	Relay bool

	// Timeout bounds the whole exchange. Zero means the default.
	Timeout time.Duration
}

// Negotiate runs the version handshake on ch, selecting the extended
// (reject-aware) or legacy exchange by the channel's version. The channel's
// negotiated version starts at the configured maximum, so the selection
// reflects what we are prepared to speak; the exchange itself lowers it to
// the level agreed with the peer.
func Negotiate(ch Channel, cfg HandshakeConfig, logger log.Logger) error {
	p := &versionProtocol{
		ch:       ch,
		cfg:      cfg,
		extended: ch.NegotiatedVersion() >= int32(wire.RejectVersion),
		logger:   logger,
	}
	return p.run()
}

// versionProtocol performs one version/verack exchange. The extended variant
// additionally surfaces reject messages sent during the handshake.
type versionProtocol struct {
	ch       Channel
	cfg      HandshakeConfig
	extended bool
	logger   log.Logger
}

func (p *versionProtocol) run() error {
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	versionCh := make(chan *wire.MsgVersion, 1)
	verackCh := make(chan struct{}, 1)
	rejectCh := make(chan *wire.MsgReject, 1)

	unsubVersion := p.ch.Subscribe(wire.CmdVersion, func(msg wire.Message) {
		if m, ok := msg.(*wire.MsgVersion); ok {
			select {
			case versionCh <- m:
			default:
			}
		}
	})
	defer unsubVersion()

	unsubVerack := p.ch.Subscribe(wire.CmdVerAck, func(wire.Message) {
		select {
		case verackCh <- struct{}{}:
		default:
		}
	})
	defer unsubVerack()

	if p.extended {
		unsubReject := p.ch.Subscribe(wire.CmdReject, func(msg wire.Message) {
			if m, ok := msg.(*wire.MsgReject); ok {
				select {
				case rejectCh <- m:
				default:
				}
			}
		})
		defer unsubReject()
	}

	if err := p.sendVersion(); err != nil {
		return err
	}

	var peer *wire.MsgVersion
	select {
	case peer = <-versionCh:
	case reject := <-rejectCh:
		return errors.Errorf("peer rejected handshake: %s (%s)", reject.Reason, reject.Code)
	case <-p.ch.Done():
		return p.stopErr()
	case <-deadline.C:
		return errors.New("timed out waiting for peer version")
	}

	if peer.ProtocolVersion < p.cfg.MinVersion {
		return errors.Errorf("peer version %d below minimum %d", peer.ProtocolVersion, p.cfg.MinVersion)
	}
	if peer.Services&p.cfg.MinServices != p.cfg.MinServices {
		return errors.Errorf("peer services %v lack required %v", peer.Services, p.cfg.MinServices)
	}

	negotiated := p.cfg.OwnVersion
	if peer.ProtocolVersion < negotiated {
		negotiated = peer.ProtocolVersion
	}
	p.ch.SetNegotiatedVersion(negotiated)

	if err := p.ch.Send(wire.NewMsgVerAck()); err != nil {
		return errors.Wrap(err, "sending verack")
	}

	select {
	case <-verackCh:
	case reject := <-rejectCh:
		return errors.Errorf("peer rejected handshake: %s (%s)", reject.Reason, reject.Code)
	case <-p.ch.Done():
		return p.stopErr()
	case <-deadline.C:
		return errors.New("timed out waiting for verack")
	}

	p.logger.Debug("Handshake complete",
		"peer", p.ch.RemoteAddr(),
		"version", negotiated,
		"extended", p.extended)
	return nil
}

// stopErr describes a channel that died mid-handshake.
func (p *versionProtocol) stopErr() error {
	if err := p.ch.Err(); err != nil {
		return errors.Wrap(err, "channel stopped during handshake")
	}
	return errors.New("channel stopped during handshake")
}

func (p *versionProtocol) sendVersion() error {
	nonce, err := wire.RandomUint64()
	if err != nil {
		return errors.Wrap(err, "generating version nonce")
	}

	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, p.cfg.OwnServices)
	you := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)

	msg := wire.NewMsgVersion(me, you, nonce, 0)
	msg.ProtocolVersion = p.cfg.OwnVersion
	msg.Services = p.cfg.OwnServices
	msg.DisableRelayTx = !p.cfg.Relay
	if err := msg.AddUserAgent(agentName, version.HarborSemVer); err != nil {
		return errors.Wrap(err, "setting user agent")
	}

	return errors.Wrap(p.ch.Send(msg), "sending version")
}
