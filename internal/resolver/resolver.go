// Package resolver is the resolution pipeline: quota check, id
// extraction, two-tier cache lookup, search fallback, and acquisition
// for cold ids.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tracklab/songcache/internal/acquire"
	"github.com/tracklab/songcache/internal/cache"
	"github.com/tracklab/songcache/internal/extract"
	"github.com/tracklab/songcache/internal/quota"
	"github.com/tracklab/songcache/internal/search"
	"golang.org/x/sync/singleflight"
)

type Status string

const (
	StatusUnauthorized Status = "unauthorized"
	StatusForbidden    Status = "forbidden"
	StatusNotFound     Status = "not_found"
	StatusFound        Status = "found"
	StatusAcquired     Status = "acquired"
	StatusAcquireError Status = "acquire_error"
)

// Result is the outcome of one Resolve call. Reason is set for
// Forbidden and AcquireError; Source is set for Found and names the
// cache tier that served the record.
type Result struct {
	Status  Status
	Reason  string
	VideoID string
	Title   string
	Link    string
	Source  cache.Tier
}

type Resolver struct {
	quota         *quota.Store
	cache         *cache.Cache
	searcher      search.Searcher
	acquirer      acquire.Acquirer
	searchTimeout time.Duration

	// flights serializes acquisitions per video id so N concurrent
	// requests for the same cold id trigger one download, not N.
	flights singleflight.Group
}

func New(q *quota.Store, c *cache.Cache, s search.Searcher, a acquire.Acquirer, searchTimeout time.Duration) *Resolver {
	return &Resolver{
		quota:         q,
		cache:         c,
		searcher:      s,
		acquirer:      a,
		searchTimeout: searchTimeout,
	}
}

// Resolve maps a query and an API key to a hosted audio link. A
// non-nil error means a collaborator (store, search backend) failed;
// every business outcome, including denials and acquisition failures,
// is a Result.
func (r *Resolver) Resolve(ctx context.Context, query, key string) (Result, error) {
	if key == "" {
		return Result{Status: StatusUnauthorized}, nil
	}

	decision, err := r.quota.Authorize(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("authorize: %w", err)
	}
	if !decision.Allowed {
		return Result{Status: StatusForbidden, Reason: decision.Reason}, nil
	}

	if videoID, ok := extract.VideoID(query); ok {
		rec, tier, err := r.cache.Lookup(ctx, videoID)
		if err != nil {
			return Result{}, err
		}
		if rec != nil {
			return foundResult(rec, tier), nil
		}
	}

	// Either the query carried no id, or the id is cold. Search gives
	// us the canonical id (and a title) for both cases.
	sctx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	match, err := r.searcher.Search(sctx, query)
	cancel()
	if errors.Is(err, search.ErrNoResults) {
		return Result{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("search: %w", err)
	}

	// The free-text query may resolve to an id that is already cached.
	rec, tier, err := r.cache.Lookup(ctx, match.VideoID)
	if err != nil {
		return Result{}, err
	}
	if rec != nil {
		return foundResult(rec, tier), nil
	}

	return r.acquireOnce(ctx, match.VideoID, match.Title)
}

// acquireOnce runs the expensive download-and-host step, collapsed per
// video id: concurrent callers share one flight and one result. The
// cache is rechecked inside the flight so a caller that queued behind
// a finished acquisition is served the cached record.
func (r *Resolver) acquireOnce(ctx context.Context, videoID, title string) (Result, error) {
	v, err, _ := r.flights.Do(videoID, func() (interface{}, error) {
		rec, tier, err := r.cache.Lookup(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return foundResult(rec, tier), nil
		}

		link, err := r.acquirer.Acquire(ctx, videoID)
		if err != nil {
			// Business failure, not a transport one. Nothing is cached.
			return Result{
				Status:  StatusAcquireError,
				VideoID: videoID,
				Reason:  err.Error(),
			}, nil
		}

		newRec := cache.Record{VideoID: videoID, Title: title, Link: link}
		if err := r.cache.Put(ctx, newRec); err != nil {
			return nil, err
		}
		return Result{
			Status:  StatusAcquired,
			VideoID: videoID,
			Title:   title,
			Link:    link,
		}, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func foundResult(rec *cache.Record, tier cache.Tier) Result {
	return Result{
		Status:  StatusFound,
		VideoID: rec.VideoID,
		Title:   rec.Title,
		Link:    rec.Link,
		Source:  tier,
	}
}
