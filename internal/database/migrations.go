package database

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationStripProviderPrefix      = "2026-09-15_strip_provider_prefix_from_owner_ids"
	migrationBackfillOwnerDisplayName = "2026-10-01_backfill_owner_display_name"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// applyMigrations runs every pending migration in order. Each one commits together with its
// db_migrations row, so a failed migration is retried on the next start.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var applied []string
	if err := db.Model(&migrationRecord{}).Pluck("name", &applied).Error; err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	for _, migration := range []migrationDefinition{
		{name: migrationStripProviderPrefix, apply: stripProviderPrefix},
		{name: migrationBackfillOwnerDisplayName, apply: backfillOwnerDisplayName},
	} {
		if done[migration.name] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// stripProviderPrefix rewrites owner ids stored as "google:<subject>" to the canonical subject.
func stripProviderPrefix(db *gorm.DB) error {
	const prefix = "google:"
	start := len(prefix) + 1
	update := fmt.Sprintf("UPDATE ideas SET owner_id = substr(owner_id, %d) WHERE owner_id LIKE '%s%%'", start, prefix)
	return db.Exec(update).Error
}

// backfillOwnerDisplayName fills empty author names from the identity directory, falling back
// to the email and then to the anonymous name.
func backfillOwnerDisplayName(db *gorm.DB) error {
	var ownerIDs []string
	if err := db.Model(&ideas.Record{}).
		Where("owner_display_name = ''").
		Distinct().
		Pluck("owner_id", &ownerIDs).Error; err != nil {
		return err
	}

	directory, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	for _, ownerID := range ownerIDs {
		name, err := directory.LookupDisplayName(context.Background(), ownerID)
		if err != nil {
			return err
		}
		if err := db.Model(&ideas.Record{}).
			Where("owner_id = ? AND owner_display_name = ''", ownerID).
			Update("owner_display_name", name).Error; err != nil {
			return err
		}
	}
	return nil
}
