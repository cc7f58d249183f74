package commands

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	cfg "github.com/bitharbor/harbor-node/config"
	"github.com/bitharbor/harbor-node/node"
	"github.com/bitharbor/harbor-node/store"
)

// InitFilesCmd initialises a fresh harbor node home directory.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a harbor node home directory",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	params, err := config.ChainParams()
	if err != nil {
		return err
	}

	db, err := node.DefaultDBProvider(&node.DBContext{ID: "headers", Config: config})
	if err != nil {
		return errors.Wrap(err, "opening header database")
	}
	defer db.Close()

	headerStore, err := store.NewHeaderStore(db)
	if err != nil {
		return errors.Wrap(err, "opening header store")
	}

	if height, err := headerStore.LastHeight(); err == nil {
		logger.Info("Found existing header store", "height", height)
		return nil
	}

	genesis := params.GenesisBlock.Header
	if err := headerStore.PutHeader(0, &genesis); err != nil {
		return errors.Wrap(err, "writing genesis header")
	}

	logger.Info("Initialized header store",
		"network", config.Network,
		"genesis", genesis.BlockHash())
	return nil
}
