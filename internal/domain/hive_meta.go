package domain

// HiveMeta is a flat key/value table, the same shape eHive-style systems use to
// carry schema version and other singleton settings (spec.md §6).
type HiveMeta struct {
	MetaKey   string `gorm:"column:meta_key;primaryKey" json:"meta_key"`
	MetaValue string `gorm:"column:meta_value" json:"meta_value"`
}

func (HiveMeta) TableName() string { return "hive_meta" }

// SchemaVersionKey is the well-known meta_key AutoMigrate/bootstrap checks against
// (SPEC_FULL.md §12, "hive_meta schema-version guard").
const SchemaVersionKey = "hive_schema_version"

// CurrentSchemaVersion is bumped whenever a migration changes table shape in a way
// that would break a coordinator running older code.
const CurrentSchemaVersion = "1"
