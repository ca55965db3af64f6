package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "tiercache",
		Short:         "tiercache: operate a two-tier memory and disk cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStatsCmd(),
		newClearCmd(),
		newInvalidateCmd(),
		newSweepCmd(),
		newKeyCmd(),
		newEventsCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
