package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleet-deliveries",
		Short: "Fleet delivery index service",
		Long: `Keeps every truck's delivery indexes in step with the deliveries collection.

Functions:
- Apply delivery change events from a change stream, MQTT or HTTP trigger
- Roll every truck over to the new day: archive, promote and carry late deliveries
- Check the truck indexes for drift against the deliveries they point at`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRolloverCmd())
	root.AddCommand(newReconcileCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
