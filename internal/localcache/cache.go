// Package localcache keeps approved ideas and bookkeeping counters in a device-local SQLite file.
package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fixed keys of the device namespace.
const (
	KeyIdeas          = "ideasAprobadas"
	KeyMirror         = "ideasRespaldo"
	KeyDailyCount     = "dailyIdeaCount"
	KeyDailyCountDate = "dailyIdeaCountDate"
	KeyLastSave       = "lastIdeaSaveTime"
)

var ErrMissingDatabase = errors.New("localcache: database connection required")

type entry struct {
	Key   string `gorm:"column:key;primaryKey;size:64;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

func (entry) TableName() string {
	return "local_entries"
}

// SQLiteCache stores an ordered idea list and integer counters as key-value rows.
// Counters are shared by every list of the same file.
type SQLiteCache struct {
	db      *gorm.DB
	listKey string
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("localcache: path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("localcache: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an existing connection and ensures the schema.
func New(db *gorm.DB) (*SQLiteCache, error) {
	if db == nil {
		return nil, ErrMissingDatabase
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("localcache: migrate: %w", err)
	}
	return &SQLiteCache{db: db, listKey: KeyIdeas}, nil
}

// Namespace returns a cache over the same file whose idea list lives under listKey.
func (c *SQLiteCache) Namespace(listKey string) *SQLiteCache {
	return &SQLiteCache{db: c.db, listKey: listKey}
}

// Close releases the underlying connection.
func (c *SQLiteCache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetAll returns the approved ideas in insertion order.
func (c *SQLiteCache) GetAll(ctx context.Context) ([]string, error) {
	return readList(c.db.WithContext(ctx), c.listKey)
}

// Append adds text to the end of the list.
func (c *SQLiteCache) Append(ctx context.Context, text string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := readList(tx, c.listKey)
		if err != nil {
			return err
		}
		return writeList(tx, c.listKey, append(list, text))
	})
}

// Remove deletes the first entry equal to text and reports whether one was found.
func (c *SQLiteCache) Remove(ctx context.Context, text string) (bool, error) {
	removed := false
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := readList(tx, c.listKey)
		if err != nil {
			return err
		}
		for index, stored := range list {
			if stored == text {
				list = append(list[:index], list[index+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			return nil
		}
		return writeList(tx, c.listKey, list)
	})
	return removed, err
}

// Clear empties the idea list. Counters are kept.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	if err := c.db.WithContext(ctx).Where("key = ?", c.listKey).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("localcache: clear: %w", err)
	}
	return nil
}

// GetCounter returns the integer stored under key, zero when absent.
func (c *SQLiteCache) GetCounter(ctx context.Context, key string) (int64, error) {
	value, found, err := get(c.db.WithContext(ctx), key)
	if err != nil || !found {
		return 0, err
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("localcache: counter %s: %w", key, err)
	}
	return parsed, nil
}

// SetCounter stores an integer under key.
func (c *SQLiteCache) SetCounter(ctx context.Context, key string, value int64) error {
	return set(c.db.WithContext(ctx), key, strconv.FormatInt(value, 10))
}

func readList(db *gorm.DB, listKey string) ([]string, error) {
	raw, found, err := get(db, listKey)
	if err != nil || !found {
		return []string{}, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("localcache: decode %s: %w", listKey, err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

func writeList(db *gorm.DB, listKey string, list []string) error {
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("localcache: encode %s: %w", listKey, err)
	}
	return set(db, listKey, string(encoded))
}

func get(db *gorm.DB, key string) (string, bool, error) {
	var row entry
	err := db.Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localcache: get %s: %w", key, err)
	}
	return row.Value, true, nil
}

func set(db *gorm.DB, key, value string) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&entry{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("localcache: set %s: %w", key, err)
	}
	return nil
}
