package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeChannels(t *testing.T) (Channel, Channel) {
	t.Helper()

	left, right := net.Pipe()
	a := NewChannel(left, wire.SimNet, int32(wire.ProtocolVersion), log.NewNopLogger())
	b := NewChannel(right, wire.SimNet, int32(wire.ProtocolVersion), log.NewNopLogger())
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		_ = a.Stop()
		_ = b.Stop()
	})
	return a, b
}

func TestChannel_SendAndDispatch(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	a, b := pipeChannels(t)

	received := make(chan wire.Message, 1)
	b.Subscribe(wire.CmdPing, func(msg wire.Message) {
		received <- msg
	})

	require.NoError(t, a.Send(wire.NewMsgPing(42)))

	select {
	case msg := <-received:
		ping, ok := msg.(*wire.MsgPing)
		require.True(t, ok)
		assert.Equal(t, uint64(42), ping.Nonce)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestChannel_Unsubscribe(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	a, b := pipeChannels(t)

	first := make(chan wire.Message, 1)
	second := make(chan wire.Message, 1)
	unsub := b.Subscribe(wire.CmdPing, func(msg wire.Message) { first <- msg })
	b.Subscribe(wire.CmdPing, func(msg wire.Message) { second <- msg })

	unsub()
	require.NoError(t, a.Send(wire.NewMsgPing(1)))

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining subscriber did not receive message")
	}
	select {
	case <-first:
		t.Fatal("unsubscribed handler received message")
	default:
	}
}

func TestChannel_StopClosesDone(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	a, b := pipeChannels(t)

	require.NoError(t, a.Stop())

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Stop")
	}

	// The peer's read fails once the pipe closes, stopping it too.
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer channel did not stop after remote close")
	}
	assert.Error(t, b.Err())
}

func TestChannel_SendAfterStop(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	c := NewChannel(left, wire.SimNet, int32(wire.ProtocolVersion), log.NewNopLogger())
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	<-c.Done()

	// The queue may accept a buffered send; after it fills or the quit
	// path wins, Send must fail rather than block forever.
	deadline := time.After(5 * time.Second)
	for {
		err := c.Send(wire.NewMsgPing(1))
		if err != nil {
			assert.Equal(t, ErrChannelStopped, err)
			return
		}
		select {
		case <-deadline:
			t.Fatal("Send kept succeeding after Stop")
		default:
		}
	}
}
