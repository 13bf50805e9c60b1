package ideas

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("idea-%03d", p.next), nil
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ideas.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate ideas schema: %v", err)
	}
	return db
}

func newTestSQLStore(t *testing.T, clock func() time.Time) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(SQLStoreConfig{
		Database:   openTestDatabase(t),
		Clock:      clock,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}
