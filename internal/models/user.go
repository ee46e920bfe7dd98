package models

import (
	"time"
)

// User is keyed by the caller-supplied X-User-ID: either an authenticated account id
// or an anonymous id generated and persisted by the client.
type User struct {
	ID            string    `gorm:"primaryKey;size:128" json:"id"`
	PlanID        string    `gorm:"size:32;not null;default:free" json:"plan"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	Authenticated bool      `json:"authenticated"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
