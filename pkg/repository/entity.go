package repository

import "github.com/ammar0144/recsync/pkg/model"

// Entity defines the minimal contract for models managed by this package
type Entity interface {
	// TableName returns the database table name for this entity
	TableName() string

	// GetPrimaryKeyValue returns the actual value of the primary key
	GetPrimaryKeyValue() interface{}
}

// managedEntities are the models created by AutoMigrate
var managedEntities = []Entity{
	&model.Recommendation{},
}
