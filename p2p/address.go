package p2p

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
)

// AddressProtocol requests peer addresses once and records what comes back.
// Fire-and-forget; the addresses feed future peer selection and are not
// consumed by the sync session itself.
type AddressProtocol struct {
	ch     Channel
	logger log.Logger

	mtx   sync.Mutex
	addrs []*wire.NetAddress
}

// NewAddressProtocol returns an address relay protocol for ch.
func NewAddressProtocol(ch Channel, logger log.Logger) *AddressProtocol {
	return &AddressProtocol{ch: ch, logger: logger}
}

// Start attaches the protocol to the channel and issues a getaddr.
func (p *AddressProtocol) Start() {
	p.ch.Subscribe(wire.CmdAddr, p.handleAddr)
	if err := p.ch.Send(wire.NewMsgGetAddr()); err != nil {
		p.logger.Debug("Failed to send getaddr", "peer", p.ch.RemoteAddr(), "err", err)
	}
}

func (p *AddressProtocol) handleAddr(msg wire.Message) {
	addr, ok := msg.(*wire.MsgAddr)
	if !ok {
		return
	}

	p.mtx.Lock()
	p.addrs = append(p.addrs, addr.AddrList...)
	total := len(p.addrs)
	p.mtx.Unlock()

	p.logger.Debug("Received peer addresses",
		"peer", p.ch.RemoteAddr(),
		"count", len(addr.AddrList),
		"total", total)
}

// Addresses returns a snapshot of the addresses received so far.
func (p *AddressProtocol) Addresses() []*wire.NetAddress {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	out := make([]*wire.NetAddress, len(p.addrs))
	copy(out, p.addrs)
	return out
}
