package main

import (
	"os"
	"path/filepath"

	"github.com/cometbft/cometbft/libs/cli"

	cmd "github.com/bitharbor/harbor-node/cmd/harbornode/commands"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.StartCmd,
		cmd.VersionCmd,
	)

	executor := cli.PrepareBaseCmd(rootCmd, "HARBOR", os.ExpandEnv(filepath.Join("$HOME", ".harbornode")))
	if err := executor.Execute(); err != nil {
		panic(err)
	}
}
