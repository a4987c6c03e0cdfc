package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "dhtnode",
		Short:        "A KRPC DHT node",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(), keygenCmd(), nodesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
