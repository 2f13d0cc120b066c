package tuners

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the number of tuners returned per cursor page.
	DefaultPageSize = 10

	maxCommitAttempts = 3
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Store      kv.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// ShuffleSeed fixes the tie-break order among equally liked tuners. When
	// empty the seed rotates daily with the UTC date.
	ShuffleSeed string
	PageSize    int
}

// Service implements listing, likes, comments and the authorization rules for tuners.
type Service struct {
	records     *RecordStore
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	shuffleSeed string
	pageSize    int
}

// NewService constructs a Service over the provided key-value store.
func NewService(cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	records, err := NewRecordStore(RecordStoreConfig{
		Store:      cfg.Store,
		IDProvider: cfg.IDProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{
		records:     records,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		shuffleSeed: strings.TrimSpace(cfg.ShuffleSeed),
		pageSize:    pageSize,
	}, nil
}

// Records exposes the underlying record store.
func (s *Service) Records() *RecordStore {
	return s.records
}

// PageSize returns the configured cursor page size.
func (s *Service) PageSize() int {
	return s.pageSize
}

// Get returns a single tuner.
func (s *Service) Get(ctx context.Context, id string) (Tuner, error) {
	return s.records.Get(ctx, id)
}

// TunerInput is the form submitted to create (empty ID) or update a tuner.
type TunerInput struct {
	ID     string
	Prompt string
	URL    string
	Size   string
}

// SaveTuner creates a tuner when input.ID is empty and updates it otherwise.
// Only the author or an admin may update. The url must match an accepted
// pattern and must not belong to another tuner.
func (s *Service) SaveTuner(ctx context.Context, user Identity, input TunerInput) (Tuner, error) {
	if !user.Authenticated() {
		return Tuner{}, newServiceError(opSaveTuner, "unauthenticated", ErrUnauthorized)
	}

	url := NormalizeURL(input.URL)
	if !IsAcceptedURL(url) {
		return Tuner{}, validationError(opSaveTuner, "invalid_url", invalidURLMessage)
	}
	size := strings.TrimSpace(input.Size)
	if size == "" {
		size = defaultSize
	}
	if !isKnownSize(size) {
		return Tuner{}, validationError(opSaveTuner, "invalid_size", "size must be one of "+strings.Join(SizeCategories, ", "))
	}
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		prompt = defaultPrompt
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		if existing, err := s.records.FindByURL(ctx, url); err == nil {
			return Tuner{}, validationError(opSaveTuner, "duplicate_url", duplicateURLMessage(existing))
		} else if !errors.Is(err, ErrNotFound) {
			s.logError(opSaveTuner, "url_lookup_failed", err)
			return Tuner{}, err
		}
		tuner, err := s.records.Create(ctx, TunerDraft{
			AuthorID: user.ID,
			Prompt:   prompt,
			URL:      url,
			Size:     size,
		})
		if err != nil {
			s.logError(opSaveTuner, "create_failed", err, zap.String("user_id", user.ID))
			return Tuner{}, err
		}
		s.logger.Info("tuner created", zap.String("tuner_id", tuner.ID), zap.String("user_id", user.ID))
		return tuner, nil
	}

	current, err := s.records.Get(ctx, id)
	if err != nil {
		return Tuner{}, err
	}
	if !CanEditRecord(current, user) {
		return Tuner{}, newServiceError(opSaveTuner, "forbidden", ErrForbidden)
	}
	if url != current.URL {
		if existing, err := s.records.FindByURL(ctx, url); err == nil && existing.ID != id {
			return Tuner{}, validationError(opSaveTuner, "duplicate_url", duplicateURLMessage(existing))
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			s.logError(opSaveTuner, "url_lookup_failed", err)
			return Tuner{}, err
		}
	}
	updated, err := s.records.Update(ctx, id, TunerPatch{Prompt: &prompt, URL: &url, Size: &size})
	if err != nil {
		s.logError(opSaveTuner, "update_failed", err, zap.String("tuner_id", id))
		return Tuner{}, err
	}
	return updated, nil
}

// DeleteTuner removes a tuner when user is its author or an admin.
func (s *Service) DeleteTuner(ctx context.Context, user Identity, id string) error {
	if !user.Authenticated() {
		return newServiceError(opRemoveTuner, "unauthenticated", ErrUnauthorized)
	}
	tuner, err := s.records.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanEditRecord(tuner, user) {
		return newServiceError(opRemoveTuner, "forbidden", ErrForbidden)
	}
	if err := s.records.Delete(ctx, tuner.ID, tuner.URL); err != nil {
		s.logError(opRemoveTuner, "delete_failed", err, zap.String("tuner_id", id))
		return err
	}
	s.logger.Info("tuner deleted", zap.String("tuner_id", id), zap.String("user_id", user.ID))
	return nil
}

func (s *Service) seedFor(now time.Time) string {
	if s.shuffleSeed != "" {
		return s.shuffleSeed
	}
	return now.UTC().Format("2006-01-02")
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tuners service error", attrs...)
}
