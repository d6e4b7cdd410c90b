package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Probe the catalog and print the resolved schema descriptor",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeFn, err := buildEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer closeFn()

		status := engine.SchemaStatus(cmd.Context())

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
