package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func companiesCMD() *cobra.Command {
	var cfgPath string
	companies := &cobra.Command{
		Use:   "companies [name or ticker]",
		Short: "Resolve a company name against the filing directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			cands, err := a.resolver.Resolve(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cands)
		},
	}
	companies.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")
	return companies
}
