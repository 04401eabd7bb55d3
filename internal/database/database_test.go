package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracklab/songcache/internal/config"
)

// SetupTestDB initializes a test database.
func SetupTestDB(t *testing.T) func() {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "songcache-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	config.Cfg.DatabasePath = filepath.Join(tmpDir, "test.db")

	if err := Init(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to init database: %v", err)
	}

	return func() {
		Close()
		os.RemoveAll(tmpDir)
	}
}

func TestDatabaseInit(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()

	var count int64
	if err := DB.Model(&Song{}).Count(&count).Error; err != nil {
		t.Errorf("songs table missing: %v", err)
	}
	if err := DB.Model(&APIKey{}).Count(&count).Error; err != nil {
		t.Errorf("api_keys table missing: %v", err)
	}
}

func TestSongCRUD(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()

	song := Song{
		VideoID: "dQw4w9WgXcQ",
		Title:   "Test Song",
		Link:    "https://files.catbox.moe/test.mp3",
	}

	if err := DB.Create(&song).Error; err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var fetched Song
	if err := DB.Where("video_id = ?", "dQw4w9WgXcQ").First(&fetched).Error; err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if fetched.Link != "https://files.catbox.moe/test.mp3" {
		t.Errorf("Link = %s, want the stored link", fetched.Link)
	}
}

func TestSongVideoIDUniqueness(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()

	first := Song{VideoID: "ABCDEFGHIJK", Link: "https://files.catbox.moe/a.mp3"}
	if err := DB.Create(&first).Error; err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := Song{VideoID: "ABCDEFGHIJK", Link: "https://files.catbox.moe/b.mp3"}
	if err := DB.Create(&dup).Error; err == nil {
		t.Error("Expected unique constraint violation on video_id")
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	cleanup := SetupTestDB(t)
	defer cleanup()

	key := APIKey{
		Key:        "test-key-123",
		Active:     true,
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		DailyLimit: 50,
	}
	if err := DB.Create(&key).Error; err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var fetched APIKey
	if err := DB.Where("key = ?", "test-key-123").First(&fetched).Error; err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if fetched.DailyLimit != 50 || !fetched.Active {
		t.Errorf("fetched = %+v", fetched)
	}

	DB.Model(&fetched).Update("active", false)
	DB.First(&fetched, fetched.ID)
	if fetched.Active {
		t.Error("Key should be inactive")
	}

	DB.Delete(&fetched)
	var count int64
	DB.Model(&APIKey{}).Where("key = ?", "test-key-123").Count(&count)
	if count != 0 {
		t.Error("Key should be deleted")
	}
}
