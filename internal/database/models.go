package database

import "time"

// Song is one cached track: a canonical YouTube video id mapped to the
// durably hosted audio file.
type Song struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	VideoID   string    `gorm:"uniqueIndex;not null"`
	Title     string    `gorm:"not null;default:''"`
	Link      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// APIKey holds one client credential and its daily quota state.
// LastReset is a UTC calendar date ("2006-01-02"); UsedToday is only
// meaningful relative to it.
type APIKey struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Key         string    `gorm:"uniqueIndex;not null"`
	Active      bool      `gorm:"not null;default:true"`
	OwnerChatID int64     `gorm:"not null;default:0"`
	ExpiresAt   time.Time `gorm:"not null"`
	DailyLimit  int       `gorm:"not null;default:0"`
	UsedToday   int       `gorm:"not null;default:0"`
	LastReset   string    `gorm:"not null;default:''"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}
