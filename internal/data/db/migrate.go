package db

import (
	"fmt"

	"gorm.io/gorm"

	domain "github.com/gohive/queen/internal/domain"
)

// AutoMigrateAll creates or updates every table the coordinator owns, then
// checks (and on a fresh database, stamps) hive_meta's schema version so a
// coordinator built against a newer schema refuses to run against an older
// one instead of silently missing columns (SPEC_FULL.md §12).
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.ResourceClass{},
		&domain.Analysis{},
		&domain.AnalysisStats{},
		&domain.Worker{},
		&domain.Job{},
		&domain.HiveMeta{},
		&domain.MeadowSighting{},
	); err != nil {
		return err
	}
	return EnsureSchemaVersion(db)
}

// EnsureSchemaVersion stamps hive_meta on a fresh database and returns an
// error on an existing one whose recorded version doesn't match
// domain.CurrentSchemaVersion, so an operator upgrading the coordinator binary
// finds out at startup rather than from a confusing runtime failure partway
// through a scheduling pass.
func EnsureSchemaVersion(db *gorm.DB) error {
	var row domain.HiveMeta
	err := db.Where("meta_key = ?", domain.SchemaVersionKey).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return db.Create(&domain.HiveMeta{
			MetaKey:   domain.SchemaVersionKey,
			MetaValue: domain.CurrentSchemaVersion,
		}).Error
	}
	if err != nil {
		return err
	}
	if row.MetaValue != domain.CurrentSchemaVersion {
		return fmt.Errorf(
			"hive schema version mismatch: database has %q, this binary expects %q; run the matching migration before starting",
			row.MetaValue, domain.CurrentSchemaVersion,
		)
	}
	return nil
}
