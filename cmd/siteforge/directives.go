package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jonathan/siteforge/internal/directives"
	"github.com/jonathan/siteforge/internal/observability"
)

var directivesJSON bool

var directivesCmd = &cobra.Command{
	Use:   "directives",
	Short: "List the design directives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := directives.Default()
		if err != nil {
			return err
		}
		if directivesJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.All())
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintDirectives(catalog.All())
		return nil
	},
}

func init() {
	directivesCmd.Flags().BoolVar(&directivesJSON, "json", false, "Print the catalog as JSON")
	rootCmd.AddCommand(directivesCmd)
}
