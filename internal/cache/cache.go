// Package cache is the two-tier song cache: a process-local sync.Map in
// front of the sqlite table. The database is the source of truth; the
// fast tier is an accelerator that may be empty at any time.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tracklab/songcache/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tier reports which layer served a lookup.
type Tier string

const (
	TierMemory   Tier = "memory"
	TierDatabase Tier = "database"
)

// Record is the cached result for one canonical video id.
type Record struct {
	VideoID string
	Title   string
	Link    string
}

type Cache struct {
	db   *gorm.DB
	fast sync.Map // video id -> Record
}

func New(db *gorm.DB) *Cache {
	return &Cache{db: db}
}

// Lookup checks the fast tier, then the database. A database hit is
// written back into the fast tier before returning so the next lookup
// for the same id is served without touching sqlite. A miss returns
// (nil, "", nil).
func (c *Cache) Lookup(ctx context.Context, videoID string) (*Record, Tier, error) {
	if v, ok := c.fast.Load(videoID); ok {
		rec := v.(Record)
		return &rec, TierMemory, nil
	}

	var song database.Song
	err := c.db.WithContext(ctx).Where("video_id = ?", videoID).First(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("cache lookup %s: %w", videoID, err)
	}

	rec := Record{VideoID: song.VideoID, Title: song.Title, Link: song.Link}
	c.fast.Store(videoID, rec)
	return &rec, TierDatabase, nil
}

// Put writes the record durably first, then into the fast tier. The
// upsert never overwrites an existing link, and fills the title only
// when the stored one is empty, so concurrent puts for the same id
// cannot clobber each other.
func (c *Cache) Put(ctx context.Context, rec Record) error {
	song := database.Song{VideoID: rec.VideoID, Title: rec.Title, Link: rec.Link}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"title": gorm.Expr("COALESCE(NULLIF(songs.title, ''), excluded.title)"),
		}),
	}).Create(&song).Error
	if err != nil {
		return fmt.Errorf("cache put %s: %w", rec.VideoID, err)
	}

	c.fast.Store(rec.VideoID, rec)
	return nil
}
