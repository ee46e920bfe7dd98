package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"glowscan_go_backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

type DefaultUserService struct {
	db *gorm.DB
}

func NewUserServiceDB(db *gorm.DB) UserStore {
	return &DefaultUserService{db: db}
}

func (s *DefaultUserService) GetOrCreateUser(ctx context.Context, userID string, authenticated bool) (*models.User, error) {
	user := models.User{ID: userID, PlanID: PlanFree, Active: true, Authenticated: authenticated}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	// An anonymous id that later shows up with a verified token is upgraded once.
	if authenticated && !user.Authenticated {
		if err := s.db.WithContext(ctx).Model(&user).Update("authenticated", true).Error; err != nil {
			return nil, fmt.Errorf("failed to mark user authenticated: %w", err)
		}
		user.Authenticated = true
	}
	return &user, nil
}

func (s *DefaultUserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *DefaultUserService) SetPlan(ctx context.Context, userID, planID string) (*models.User, error) {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("plan_id", planID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update plan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return s.GetUser(ctx, userID)
}

// MemoryUserService keeps users in process; used when no store is backed by postgres.
type MemoryUserService struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserService() *MemoryUserService {
	return &MemoryUserService{users: make(map[string]models.User)}
}

func (s *MemoryUserService) GetOrCreateUser(ctx context.Context, userID string, authenticated bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		user = models.User{ID: userID, PlanID: PlanFree, Active: true}
	}
	user.Authenticated = user.Authenticated || authenticated
	s.users[userID] = user
	return &user, nil
}

func (s *MemoryUserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (s *MemoryUserService) SetPlan(ctx context.Context, userID, planID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	user.PlanID = planID
	s.users[userID] = user
	return &user, nil
}
