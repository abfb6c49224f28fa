// Package cli implements templatectl, the operator tool for the template
// catalog.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"followup-templates/internal/app"
	"followup-templates/internal/config"
	"followup-templates/internal/logger"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "templatectl",
		Short:         "Follow-up template catalog tools",
		Long:          `templatectl resolves and previews follow-up messages, bulk-loads templates and moves data between stores.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newResolveCommand(),
		newImportCommand(),
		newMigrateCommand(),
		newFallbackCommand(),
	)

	return cmd
}

// loadEnv reads configuration and sets up logging on stderr so command
// output stays machine readable.
func loadEnv() (*config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	return cfg, log
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, log := loadEnv()
	return app.New(ctx, cfg, log)
}
