package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"followup-templates/internal/database"
	"followup-templates/internal/models"
)

const migrateBatchSize = 200

func newMigrateCommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy templates and leads from SQLite to PostgreSQL",
		Long: `Copy every template and lead from a local SQLite database into the PostgreSQL
database described by DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSLMODE.
Existing rows with the same id are overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadEnv()
			if source == "" {
				source = cfg.DBPath
			}

			src, err := database.OpenDriver(database.DriverSQLite, source, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer closeDB(src)
			log.Info("connected to source", "path", source)

			dst, err := database.OpenDriver(database.DriverPostgres, database.PostgresDSN(cfg), cfg.LogLevel)
			if err != nil {
				return err
			}
			defer closeDB(dst)
			if err := database.Migrate(dst); err != nil {
				return err
			}

			counts, err := copyTables(cmd.Context(), src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d templates, %d leads\n", counts["message_templates"], counts["leads"])
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "from", "", "SQLite database path (default DB_PATH)")
	return cmd
}

// copyTables upserts all rows from src into dst in one transaction and
// returns the number of rows per table.
func copyTables(ctx context.Context, src, dst *gorm.DB) (map[string]int, error) {
	var templates []models.Template
	if err := src.WithContext(ctx).Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	var leads []models.Lead
	if err := src.WithContext(ctx).Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to read leads: %w", err)
	}

	err := dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := clause.OnConflict{UpdateAll: true}
		if len(templates) > 0 {
			if err := tx.Clauses(upsert).CreateInBatches(&templates, migrateBatchSize).Error; err != nil {
				return fmt.Errorf("failed to write templates: %w", err)
			}
		}
		if len(leads) > 0 {
			if err := tx.Clauses(upsert).CreateInBatches(&leads, migrateBatchSize).Error; err != nil {
				return fmt.Errorf("failed to write leads: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]int{
		models.Template{}.TableName(): len(templates),
		models.Lead{}.TableName():     len(leads),
	}, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
