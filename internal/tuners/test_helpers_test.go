package tuners

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testAuthorID = "user-author"
	testOtherID  = "user-other"
	testAdminID  = "user-admin"
)

type sequenceIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s%04d", p.prefix, p.next), nil
}

type failingIDProvider struct{}

func (failingIDProvider) NewID() (string, error) {
	return "", errors.New("exhausted ids")
}

func newTestKV(t *testing.T) kv.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&kv.SQLiteEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := kv.NewSQLiteStore(kv.SQLiteStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWithStore(t, newTestKV(t))
}

func newTestServiceWithStore(t *testing.T, store kv.Store) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store:       store,
		IDProvider:  &sequenceIDProvider{prefix: "id-"},
		Clock:       func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		ShuffleSeed: "test-seed",
		PageSize:    3,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustCreate(t *testing.T, service *Service, draft TunerDraft) Tuner {
	t.Helper()
	if draft.AuthorID == "" {
		draft.AuthorID = testAuthorID
	}
	if draft.Size == "" {
		draft.Size = Size16
	}
	tuner, err := service.Records().Create(context.Background(), draft)
	if err != nil {
		t.Fatalf("failed to create tuner: %v", err)
	}
	return tuner
}

func testURL(index int) string {
	return fmt.Sprintf("https://tuner.midjourney.com/abc%04d", index)
}

func authenticated(id string, admin bool) Identity {
	return Identity{ID: id, Username: "name-" + id, AvatarURL: "https://img.example.com/" + id, IsAdmin: admin, IsAuthenticated: true}
}

// commitInterceptor wraps a store and lets a test inject failures or concurrent writes before commits.
type commitInterceptor struct {
	kv.Store
	beforeCommit func(ctx context.Context, batch kv.Batch) error
	commits      int
}

func (c *commitInterceptor) Commit(ctx context.Context, batch kv.Batch) error {
	c.commits++
	if c.beforeCommit != nil {
		if err := c.beforeCommit(ctx, batch); err != nil {
			return err
		}
	}
	return c.Store.Commit(ctx, batch)
}

func tunerIDs(tuners []Tuner) []string {
	ids := make([]string, 0, len(tuners))
	for _, tuner := range tuners {
		ids = append(ids, tuner.ID)
	}
	return ids
}

func pointer(value string) *string {
	return &value
}
