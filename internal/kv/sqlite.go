package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("kv: database handle is required")

// SQLiteEntry is the row layout backing SQLiteStore.
type SQLiteEntry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:512;not null"`
	Value            []byte `gorm:"column:entry_value;type:blob;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SQLiteEntry) TableName() string {
	return "kv_entries"
}

// SQLiteStoreConfig describes the dependencies of a SQLiteStore.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore implements Store on a single gorm-managed table.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore constructs a store over an already migrated database.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}
	var row SQLiteEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return row.toEntry(), nil
}

func (s *SQLiteStore) List(ctx context.Context, options ListOptions) (ListPage, error) {
	after, err := decodeCursor(options.Cursor, options.Prefix)
	if err != nil {
		return ListPage{}, err
	}

	query := s.db.WithContext(ctx).Model(&SQLiteEntry{})
	if after != "" {
		query = query.Where("entry_key > ?", after)
	} else if options.Prefix != "" {
		query = query.Where("entry_key >= ?", options.Prefix)
	}
	if upper := prefixUpperBound(options.Prefix); upper != "" {
		query = query.Where("entry_key < ?", upper)
	}
	query = query.Order("entry_key ASC")
	if options.Limit > 0 {
		query = query.Limit(options.Limit + 1)
	}

	var rows []SQLiteEntry
	if err := query.Find(&rows).Error; err != nil {
		return ListPage{}, fmt.Errorf("kv: list %q: %w", options.Prefix, err)
	}

	page := ListPage{Entries: make([]Entry, 0, len(rows))}
	if options.Limit > 0 && len(rows) > options.Limit {
		rows = rows[:options.Limit]
		page.Cursor = encodeCursor(rows[len(rows)-1].Key)
	}
	for _, row := range rows {
		page.Entries = append(page.Entries, row.toEntry())
	}
	return page, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, batch Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}
	now := s.clock().UTC().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, check := range batch.Checks {
			version, err := currentVersion(tx, check.Key)
			if err != nil {
				return err
			}
			if version != check.Version {
				s.logger.Debug("kv commit check failed",
					zap.String("key", check.Key),
					zap.Int64("expected_version", check.Version),
					zap.Int64("current_version", version))
				return ErrConflict
			}
		}
		for _, mutation := range batch.Sets {
			version, err := currentVersion(tx, mutation.Key)
			if err != nil {
				return err
			}
			if version == 0 {
				row := SQLiteEntry{
					Key:              mutation.Key,
					Value:            mutation.Value,
					Version:          1,
					UpdatedAtSeconds: now,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("kv: insert %q: %w", mutation.Key, err)
				}
				continue
			}
			updates := map[string]interface{}{
				"entry_value":  mutation.Value,
				"version":      version + 1,
				"updated_at_s": now,
			}
			if err := tx.Model(&SQLiteEntry{}).Where("entry_key = ?", mutation.Key).Updates(updates).Error; err != nil {
				return fmt.Errorf("kv: update %q: %w", mutation.Key, err)
			}
		}
		for _, key := range batch.Deletes {
			if err := tx.Where("entry_key = ?", key).Delete(&SQLiteEntry{}).Error; err != nil {
				return fmt.Errorf("kv: delete %q: %w", key, err)
			}
		}
		return nil
	})
}

// Close is a no-op; the gorm handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

func currentVersion(tx *gorm.DB, key string) (int64, error) {
	var row SQLiteEntry
	err := tx.Select("entry_key", "version").Where("entry_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kv: read version %q: %w", key, err)
	}
	return row.Version, nil
}

func (row SQLiteEntry) toEntry() Entry {
	return Entry{Key: row.Key, Value: row.Value, Version: row.Version}
}
