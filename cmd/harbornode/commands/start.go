package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bitharbor/harbor-node/libs/stopsignal"
	"github.com/bitharbor/harbor-node/node"
)

// StartCmd runs the node until headers are synced or a signal arrives.
var StartCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"node", "run"},
	Short:   "Run the harbor node and sync headers",
	RunE:    startNode,
}

func startNode(cmd *cobra.Command, args []string) error {
	sig := stopsignal.New()
	trapSignals(sig, logger)

	n, err := node.NewNode(config, node.DefaultDBProvider, sig, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create node")
	}

	if err := n.Start(); err != nil {
		return errors.Wrap(err, "failed to start node")
	}
	logger.Info("Started node",
		"network", config.Network,
		"peer", config.P2P.PeerAddress)

	err = sig.Wait()
	if stopErr := n.Stop(); stopErr != nil {
		logger.Error("Error stopping node", "err", stopErr)
	}
	return err
}

// trapSignals forwards SIGINT/SIGTERM into the stop signal. The handler
// stays armed, so repeated signals are logged rather than killing the
// process mid-shutdown.
func trapSignals(sig *stopsignal.Signal, logger log.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range c {
			logger.Info("Captured signal, stopping", "signal", s.String())
			sig.Trip(nil)
		}
	}()
}
