package services

import (
	"context"
	"errors"

	"glowscan_go_backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DefaultQuotaService struct {
	db *gorm.DB
}

func NewQuotaServiceDB(db *gorm.DB) QuotaStore {
	return &DefaultQuotaService{db: db}
}

// Consume creates the counter row on first use, then locks it for the rest of the
// transaction so concurrent requests for the same key are applied one at a time.
func (s *DefaultQuotaService) Consume(ctx context.Context, userID, tier, day string, limit int64) (int64, bool, error) {
	var used int64
	var allowed bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.QuotaCounter{UserID: userID, ModelTier: tier, Day: day}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var counter models.QuotaCounter
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND model_tier = ?", userID, tier).
			First(&counter).Error; err != nil {
			return err
		}

		if counter.Day != day {
			counter.Day = day
			counter.Count = 0
		}

		if limit != Unlimited && counter.Count >= limit {
			used = counter.Count
			// Persist the rollover even on denial so the stale day is not re-read.
			return tx.Model(&counter).Updates(map[string]interface{}{"day": counter.Day, "count": counter.Count}).Error
		}

		counter.Count++
		used = counter.Count
		allowed = true
		return tx.Model(&counter).Updates(map[string]interface{}{"day": counter.Day, "count": counter.Count}).Error
	})
	if err != nil {
		return 0, false, err
	}
	return used, allowed, nil
}

func (s *DefaultQuotaService) Peek(ctx context.Context, userID, tier, day string) (int64, error) {
	var counter models.QuotaCounter
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND model_tier = ?", userID, tier).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if counter.Day != day {
		return 0, nil
	}
	return counter.Count, nil
}
