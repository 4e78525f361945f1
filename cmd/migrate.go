package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/core"
	"github.com/nagy-andras-sk/edudisplej-sub004/internal/infrastructure"
	"github.com/spf13/cobra"
)

// migrateCmd applies the schema once at deployment time. Request-time
// code assumes the schema is already correct.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Applies all pending database migrations to ensure the schema is up to date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrations() error {
	logger.Info("Running database migrations...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	models := []interface{}{
		&core.Company{},
		&core.APIToken{},
		&core.Device{},
		&core.Group{},
		&core.LoopStyle{},
		&core.ContentItem{},
		&core.DeviceModule{},
		&core.TimeBlock{},
		&core.HealthReport{},
		&core.InstallProgress{},
		&core.MigrationRequest{},
		&core.SyncLog{},
		&core.DeviceLog{},
	}

	for _, model := range models {
		if err := db.DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
		logger.Infof("Migrated %T", model)
	}

	if err := insertDefaultData(db); err != nil {
		logger.WithError(err).Warn("Failed to insert default data")
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// insertDefaultData seeds an admin company and token into an empty
// database so operators can bootstrap the fleet.
func insertDefaultData(db *infrastructure.Database) error {
	var count int64
	if err := db.DB.Model(&core.Company{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	logger.Info("Seeding admin company...")

	admin := core.Company{
		Name:       "EduDisplej Admin",
		LicenseKey: uuid.New().String(),
		IsAdmin:    true,
		Active:     true,
	}
	if err := db.DB.Create(&admin).Error; err != nil {
		return err
	}

	token := core.APIToken{
		Token:     uuid.New().String(),
		CompanyID: admin.ID,
		Name:      "bootstrap admin token",
		Active:    true,
	}
	if err := db.DB.Create(&token).Error; err != nil {
		return err
	}

	logger.WithField("token", token.Token).Info("Created bootstrap admin token")
	return nil
}
