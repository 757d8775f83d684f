package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kfin-labs/dartdeep/internal/pipeline"
)

func searchCMD() *cobra.Command {
	var cfgPath string
	var maxAttempts int
	var language string
	search := &cobra.Command{
		Use:   "search [question]",
		Short: "Run one deep-search and print the envelope as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			env := a.orchestrator.DeepSearch(cmd.Context(), strings.Join(args, " "), pipeline.Options{
				MaxAttempts: maxAttempts,
				Language:    language,
			})
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(env)
		},
	}
	search.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")
	search.Flags().IntVar(&maxAttempts, "max-attempts", 0, "sufficiency loop bound (default from config)")
	search.Flags().StringVar(&language, "language", "ko", "answer language (ko or en)")
	return search
}
