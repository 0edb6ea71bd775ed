package main

import (
	"fmt"

	"github.com/gridlet-dev/gridlet/internal/version"
	"github.com/spf13/cobra"
)

// versionCmd implements the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gridlet",
	Run: func(_ *cobra.Command, _ []string) {
		info := version.Get()
		fmt.Printf("gridlet version %s (extension API %s)\n", info.Full(), version.HostAPIVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
