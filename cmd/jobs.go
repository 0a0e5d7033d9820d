package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newRolloverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Run the daily rollover once and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.rollover.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check every truck index for drift and print the findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			reports, err := rt.reconcile.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(reports)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
