package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidProfile indicates the profile did not contain a usable identifier.
var ErrInvalidProfile = errors.New("users: invalid profile")

// ServiceConfig describes the dependencies required for profile storage.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores the profiles of locally authenticated users.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// LookupProfile returns the stored profile for userID.
func (s *Service) LookupProfile(ctx context.Context, userID string) (auth.Profile, error) {
	id := normalize(userID)
	if id == "" {
		return auth.Profile{}, ErrInvalidProfile
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Profile{}, fmt.Errorf("%w: %s", auth.ErrProfileNotFound, id)
	}
	if err != nil {
		return auth.Profile{}, err
	}
	return auth.Profile{
		ID:        profile.UserID,
		Username:  profile.Username,
		AvatarURL: profile.AvatarURL,
		IsAdmin:   profile.IsAdmin,
	}, nil
}

// UpsertProfile creates the profile or overwrites its mutable fields.
func (s *Service) UpsertProfile(ctx context.Context, profile auth.Profile) error {
	id := normalize(profile.ID)
	if id == "" {
		return ErrInvalidProfile
	}
	now := s.now().UTC()
	record := Profile{
		UserID:    id,
		Username:  normalize(profile.Username),
		AvatarURL: normalize(profile.AvatarURL),
		IsAdmin:   profile.IsAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "avatar_url", "is_admin", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		s.logger.Error("profile upsert failed", zap.String("user_id", id), zap.Error(err))
		return err
	}
	s.logger.Info("profile saved", zap.String("user_id", id), zap.Bool("is_admin", record.IsAdmin))
	return nil
}
