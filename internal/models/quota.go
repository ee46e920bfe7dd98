package models

import "time"

// QuotaCounter holds usage for one (user, tier) pair. Day is the UTC calendar day the
// Count belongs to; a counter read on any other day counts as zero.
type QuotaCounter struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:128;not null;uniqueIndex:idx_quota_user_tier"`
	ModelTier string `gorm:"size:64;not null;uniqueIndex:idx_quota_user_tier"`
	Day       string `gorm:"size:10;not null"`
	Count     int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day of t in DayLayout form.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
