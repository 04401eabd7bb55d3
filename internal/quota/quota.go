// Package quota enforces per-key daily request quotas against the
// api_keys table. Authorization and consumption are one step: a key
// that passes the checks has already had today's counter incremented,
// whatever happens to the request afterwards.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tracklab/songcache/internal/database"
	"github.com/tracklab/songcache/internal/notify"
	"gorm.io/gorm"
)

// Denial reasons surfaced to the caller.
const (
	ReasonInvalidKey    = "Invalid API key"
	ReasonExpired       = "API key expired"
	ReasonLimitExceeded = "Daily limit exceeded"
)

const dateLayout = "2006-01-02"

// Decision is the outcome of one authorize-and-consume call.
type Decision struct {
	Allowed bool
	Reason  string
}

type Store struct {
	db       *gorm.DB
	notifier notify.Notifier
	now      func() time.Time
}

func New(db *gorm.DB, notifier notify.Notifier) *Store {
	return &Store{db: db, notifier: notifier, now: time.Now}
}

// Authorize validates the key, rolls the daily counter over on a day
// change, and consumes one unit of today's quota. The rollover and the
// increment are each a single guarded UPDATE so concurrent requests
// for the same key cannot lose updates or pass the limit on a stale
// count. A non-nil error means the store itself failed, not that the
// key was denied.
func (s *Store) Authorize(ctx context.Context, key string) (Decision, error) {
	var rec database.APIKey
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Decision{Reason: ReasonInvalidKey}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("fetch api key: %w", err)
	}
	if !rec.Active {
		return Decision{Reason: ReasonInvalidKey}, nil
	}

	now := s.now().UTC()
	if now.After(rec.ExpiresAt) {
		go s.notifyExpired(rec)
		return Decision{Reason: ReasonExpired}, nil
	}

	today := now.Format(dateLayout)
	if rec.LastReset != today {
		// Day rollover: zero the counter and stamp the date in one
		// statement. The WHERE clause makes the reset idempotent when
		// two requests race across midnight.
		err := s.db.WithContext(ctx).Model(&database.APIKey{}).
			Where("id = ? AND last_reset <> ?", rec.ID, today).
			Updates(map[string]interface{}{"used_today": 0, "last_reset": today}).Error
		if err != nil {
			return Decision{}, fmt.Errorf("reset daily usage: %w", err)
		}
	}

	// Guarded increment: only consumes when under the limit, so a
	// denied request never bumps the counter and concurrent requests
	// cannot both squeeze through the last slot.
	res := s.db.WithContext(ctx).Model(&database.APIKey{}).
		Where("id = ? AND used_today < daily_limit", rec.ID).
		Update("used_today", gorm.Expr("used_today + 1"))
	if res.Error != nil {
		return Decision{}, fmt.Errorf("consume quota: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Decision{Reason: ReasonLimitExceeded}, nil
	}

	return Decision{Allowed: true}, nil
}

// ResetOutdated zeroes the counters of every key whose last reset is
// not today. Authorize already does this lazily per key; the sweep
// just keeps the table tidy when run from the midnight cron job.
func (s *Store) ResetOutdated(ctx context.Context) error {
	today := s.now().UTC().Format(dateLayout)
	err := s.db.WithContext(ctx).Model(&database.APIKey{}).
		Where("last_reset <> ?", today).
		Updates(map[string]interface{}{"used_today": 0, "last_reset": today}).Error
	if err != nil {
		return fmt.Errorf("reset outdated quotas: %w", err)
	}
	return nil
}

func (s *Store) notifyExpired(rec database.APIKey) {
	if rec.OwnerChatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := fmt.Sprintf("Your API key expired on %s. Contact the admin to renew it.",
		rec.ExpiresAt.UTC().Format(dateLayout))
	if err := s.notifier.Send(ctx, rec.OwnerChatID, msg); err != nil {
		log.Printf("expiry notification for key id %d failed: %v", rec.ID, err)
	}
}
