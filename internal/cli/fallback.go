package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"followup-templates/internal/fallback"
)

func newFallbackCommand() *cobra.Command {
	var keysOnly bool
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Print the static fallback catalog",
		Long:  `Print the fallback catalog in effect (FALLBACK_CATALOG_PATH or the built-in one) as YAML. The output can be edited and loaded back through FALLBACK_CATALOG_PATH.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadEnv()

			fb := fallback.Default()
			if cfg.FallbackCatalogPath != "" {
				loaded, err := fallback.LoadFile(cfg.FallbackCatalogPath)
				if err != nil {
					log.Warn("using built-in fallback catalog", "path", cfg.FallbackCatalogPath, "error", err)
				} else {
					fb = loaded
				}
			}

			out := cmd.OutOrStdout()
			if keysOnly {
				for _, k := range fb.StepKeys() {
					fmt.Fprintln(out, k)
				}
				return nil
			}

			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			if err := enc.Encode(fb); err != nil {
				return fmt.Errorf("failed to encode fallback catalog: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keysOnly, "keys", false, "List step keys only")
	return cmd
}
