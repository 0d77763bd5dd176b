// Package model defines the recommendation record shared by the
// relational store, the shadow cache and the similarity engine.
package model

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Cache key constants for consistent key generation across the application
const (
	CacheKeyPrefix = "videos_id"
	cacheKeySep    = ":"
)

// TableName is the relational table holding recommendation records
const TableName = "similar_recommendation"

// Recommendation is the ranked list of similar item ids for one item
type Recommendation struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	RecommendedIDs IDList    `gorm:"column:recommended_ids;not null" json:"recommended_ids"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName returns the database table name for GORM
func (Recommendation) TableName() string {
	return TableName
}

// GetPrimaryKeyValue returns the record id
func (r Recommendation) GetPrimaryKeyValue() interface{} {
	return r.ID
}

// CacheKey returns the cache key of this record
func (r Recommendation) CacheKey() string {
	return CacheKey(r.ID)
}

// CacheKey builds the cache key for an item id: "videos_id:<id>"
func CacheKey(id int64) string {
	return CacheKeyPrefix + cacheKeySep + strconv.FormatInt(id, 10)
}

// IDList is an ordered list of item ids. Order is rank order and is preserved
// through the relational column and the cache value.
type IDList []int64

// Value implements driver.Valuer, storing the list as a JSON array
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *IDList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into IDList", src)
	}
	return l.UnmarshalCache(raw)
}

// GormDBDataType picks the column type per dialect
func (IDList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "jsonb"
	case "mysql":
		return "json"
	default:
		return "text"
	}
}

// MarshalCache encodes the list as the cache value (JSON array of integers)
func (l IDList) MarshalCache() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int64(l))
}

// UnmarshalCache decodes a cache value
func (l *IDList) UnmarshalCache(raw []byte) error {
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("invalid id list %q: %w", raw, err)
	}
	*l = ids
	return nil
}
