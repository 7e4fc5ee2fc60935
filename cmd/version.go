package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/wingfox/internal/server"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// the version needs no config
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s\n", app, version)
	},
}

func init() {
	server.Version = version
	rootCmd.AddCommand(versionCmd)
}
