package domain

import "time"

// MeadowSighting persists check_for_dead_workers' UNREACHABLE finding
// (SPEC_FULL.md §12): a meadow that failed to answer a status query is
// recorded with a running count and its most recent occurrence, so an
// outage is distinguishable from "no dead workers found" in the admin
// surface instead of only ever existing as an in-process GCSummary counter.
type MeadowSighting struct {
	MeadowType string    `gorm:"column:meadow_type;primaryKey" json:"meadow_type"`
	MeadowName string    `gorm:"column:meadow_name;primaryKey" json:"meadow_name"`
	Count      int       `gorm:"column:count;not null;default:0" json:"count"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null" json:"last_seen_at"`
}

func (MeadowSighting) TableName() string { return "meadow_sighting" }
