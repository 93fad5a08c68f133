package domain

// ResourceClass is a tuple describing memory/CPU requirements bound to a meadow
// queue (spec.md GLOSSARY). Workers and Analyses both reference one by ID; several
// Queen operations additionally need to resolve a class by its unique Name.
type ResourceClass struct {
	ResourceClassID int64  `gorm:"column:resource_class_id;primaryKey;autoIncrement" json:"resource_class_id"`
	Name            string `gorm:"column:name;uniqueIndex;not null" json:"name"`
}

func (ResourceClass) TableName() string { return "resource_class" }
