package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracklab/songcache/internal/cache"
	"github.com/tracklab/songcache/internal/config"
	"github.com/tracklab/songcache/internal/database"
	"github.com/tracklab/songcache/internal/notify"
	"github.com/tracklab/songcache/internal/quota"
	"github.com/tracklab/songcache/internal/search"
)

func setupTestDB(t *testing.T) func() {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "resolver-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	config.Cfg.DatabasePath = filepath.Join(tmpDir, "test.db")

	if err := database.Init(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to init database: %v", err)
	}

	return func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}
}

type fakeSearcher struct {
	result *search.Result
	err    error
	calls  int64
}

func (f *fakeSearcher) Search(context.Context, string) (*search.Result, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAcquirer struct {
	link  string
	err   error
	delay time.Duration
	calls int64
}

func (f *fakeAcquirer) Acquire(ctx context.Context, videoID string) (string, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.link, nil
}

func newTestResolver(t *testing.T, s search.Searcher, a *fakeAcquirer) *Resolver {
	t.Helper()
	q := quota.New(database.DB, notify.Noop{})
	c := cache.New(database.DB)
	return New(q, c, s, a, 5*time.Second)
}

func seedKey(t *testing.T, key string, limit, used int) {
	t.Helper()
	rec := database.APIKey{
		Key:        key,
		Active:     true,
		ExpiresAt:  time.Now().UTC().Add(24 * time.Hour),
		DailyLimit: limit,
		UsedToday:  used,
		LastReset:  time.Now().UTC().Format("2006-01-02"),
	}
	if err := database.DB.Create(&rec).Error; err != nil {
		t.Fatalf("seed key: %v", err)
	}
}

func TestResolveMissingKey(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	r := newTestResolver(t, &fakeSearcher{}, &fakeAcquirer{})
	res, err := r.Resolve(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusUnauthorized {
		t.Errorf("Status = %s, want %s", res.Status, StatusUnauthorized)
	}
}

func TestResolveExhaustedQuota(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "spent", 3, 3)
	r := newTestResolver(t, &fakeSearcher{}, &fakeAcquirer{})

	res, err := r.Resolve(context.Background(), "anything", "spent")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusForbidden {
		t.Fatalf("Status = %s, want %s", res.Status, StatusForbidden)
	}
	if res.Reason != quota.ReasonLimitExceeded {
		t.Errorf("Reason = %q, want %q", res.Reason, quota.ReasonLimitExceeded)
	}
}

func TestResolveNothingFound(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "key", 10, 0)
	s := &fakeSearcher{err: search.ErrNoResults}
	a := &fakeAcquirer{}
	r := newTestResolver(t, s, a)

	res, err := r.Resolve(context.Background(), "complete gibberish", "key")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("Status = %s, want %s", res.Status, StatusNotFound)
	}
	if atomic.LoadInt64(&a.calls) != 0 {
		t.Error("acquirer must not be invoked when nothing resolves")
	}
}

func TestResolveSearchProviderBroken(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "key", 10, 0)
	s := &fakeSearcher{err: errors.New("upstream down")}
	r := newTestResolver(t, s, &fakeAcquirer{})

	if _, err := r.Resolve(context.Background(), "some song", "key"); err == nil {
		t.Fatal("Resolve succeeded, want error when the provider is broken")
	}
}

func TestResolveCachedIDSkipsSearchAndAcquire(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "key", 10, 0)
	database.DB.Create(&database.Song{
		VideoID: "ABCDEFGHIJK",
		Title:   "Cached Song",
		Link:    "https://files.catbox.moe/cached.mp3",
	})

	s := &fakeSearcher{}
	a := &fakeAcquirer{}
	r := newTestResolver(t, s, a)

	res, err := r.Resolve(context.Background(), "ABCDEFGHIJK", "key")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFound)
	}
	if res.Title != "Cached Song" || res.Link != "https://files.catbox.moe/cached.mp3" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Source != cache.TierDatabase {
		t.Errorf("Source = %s, want %s on a cold fast tier", res.Source, cache.TierDatabase)
	}
	if atomic.LoadInt64(&s.calls) != 0 {
		t.Error("search must not run for a cached id")
	}
	if atomic.LoadInt64(&a.calls) != 0 {
		t.Error("acquisition must not run for a cached id")
	}
}

func TestResolveFreeTextHitsCacheUnderResolvedID(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "key", 10, 0)
	database.DB.Create(&database.Song{
		VideoID: "ABCDEFGHIJK",
		Title:   "Cached Song",
		Link:    "https://files.catbox.moe/cached.mp3",
	})

	s := &fakeSearcher{result: &search.Result{VideoID: "ABCDEFGHIJK", Title: "Cached Song"}}
	a := &fakeAcquirer{}
	r := newTestResolver(t, s, a)

	res, err := r.Resolve(context.Background(), "cached song live", "key")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFound)
	}
	if atomic.LoadInt64(&a.calls) != 0 {
		t.Error("acquisition must not run when the resolved id is cached")
	}
}

func TestResolveAcquiresThenServesFromMemory(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "key", 10, 0)
	s := &fakeSearcher{result: &search.Result{VideoID: "dQw4w9WgXcQ", Title: "New Song"}}
	a := &fakeAcquirer{link: "https://files.catbox.moe/new.mp3"}
	r := newTestResolver(t, s, a)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "new song", "key")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusAcquired {
		t.Fatalf("Status = %s, want %s", res.Status, StatusAcquired)
	}
	if res.VideoID != "dQw4w9WgXcQ" || res.Link != "https://files.catbox.moe/new.mp3" {
		t.Errorf("unexpected result: %+v", res)
	}

	// Identical request again: served from the fast tier, no new
	// acquisition.
	res, err = r.Resolve(ctx, "new song", "key")
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if res.Status != StatusFound {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFound)
	}
	if res.Source != cache.TierMemory {
		t.Errorf("Source = %s, want %s", res.Source, cache.TierMemory)
	}
	if got := atomic.LoadInt64(&a.calls); got != 1 {
		t.Errorf("acquire calls = %d, want 1", got)
	}
}

func TestResolveAcquisitionFailureCachesNothing(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	seedKey(t, "key", 10, 0)
	s := &fakeSearcher{result: &search.Result{VideoID: "dQw4w9WgXcQ", Title: "Doomed Song"}}
	a := &fakeAcquirer{err: errors.New("yt-dlp exited with status 1")}
	r := newTestResolver(t, s, a)

	res, err := r.Resolve(context.Background(), "doomed song", "key")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Status != StatusAcquireError {
		t.Fatalf("Status = %s, want %s", res.Status, StatusAcquireError)
	}
	if res.VideoID != "dQw4w9WgXcQ" || res.Reason == "" {
		t.Errorf("unexpected result: %+v", res)
	}

	var count int64
	database.DB.Model(&database.Song{}).Count(&count)
	if count != 0 {
		t.Errorf("song rows = %d, a failed acquisition must cache nothing", count)
	}
}

func TestResolveConcurrentColdIDAcquiresOnce(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	const requests = 8
	seedKey(t, "key", 100, 0)

	s := &fakeSearcher{result: &search.Result{VideoID: "dQw4w9WgXcQ", Title: "Hot Song"}}
	a := &fakeAcquirer{link: "https://files.catbox.moe/hot.mp3", delay: 50 * time.Millisecond}
	r := newTestResolver(t, s, a)

	var wg sync.WaitGroup
	results := make([]Result, requests)
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "hot song", "key")
		}(i)
	}
	wg.Wait()

	for i := 0; i < requests; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		switch results[i].Status {
		case StatusAcquired, StatusFound:
		default:
			t.Errorf("request %d status = %s", i, results[i].Status)
		}
		if results[i].Link != "https://files.catbox.moe/hot.mp3" {
			t.Errorf("request %d link = %q", i, results[i].Link)
		}
	}

	if got := atomic.LoadInt64(&a.calls); got != 1 {
		t.Errorf("acquire calls = %d, want 1", got)
	}

	var count int64
	database.DB.Model(&database.Song{}).Where("video_id = ?", "dQw4w9WgXcQ").Count(&count)
	if count != 1 {
		t.Errorf("song rows = %d, want exactly 1", count)
	}
}
