package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/auth"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/kv"
	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	authorToken = "token-author"
	otherToken  = "token-other"
	adminToken  = "token-admin"
)

var (
	authorIdentity = tuners.Identity{ID: "user-author", Username: "author", AvatarURL: "https://img/author", IsAuthenticated: true}
	otherIdentity  = tuners.Identity{ID: "user-other", Username: "other", AvatarURL: "https://img/other", IsAuthenticated: true}
	adminIdentity  = tuners.Identity{ID: "user-admin", Username: "admin", IsAdmin: true, IsAuthenticated: true}
)

type stubResolver struct {
	identities map[string]tuners.Identity
	errs       map[string]error
}

func (s stubResolver) Resolve(_ context.Context, token string) (tuners.Identity, error) {
	if err, ok := s.errs[token]; ok {
		return tuners.Anonymous(), err
	}
	if identity, ok := s.identities[token]; ok {
		return identity, nil
	}
	return tuners.Anonymous(), auth.ErrInvalidSession
}

func newStubResolver() stubResolver {
	return stubResolver{
		identities: map[string]tuners.Identity{
			authorToken: authorIdentity,
			otherToken:  otherIdentity,
			adminToken:  adminIdentity,
		},
		errs: map[string]error{
			"token-expired":  auth.ErrExpiredSession,
			"token-upstream": fmt.Errorf("%w: directory down", tuners.ErrUpstreamIdentity),
		},
	}
}

type testServer struct {
	handler http.Handler
	service *tuners.Service
}

func newTestServer(t *testing.T, logger *zap.Logger) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	service, err := tuners.NewService(tuners.ServiceConfig{
		Store:       store,
		IDProvider:  tuners.NewUUIDProvider(),
		Clock:       func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		ShuffleSeed: "router-seed",
		PageSize:    2,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tuners:     service,
		Identities: newStubResolver(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return testServer{handler: handler, service: service}
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = strings.NewReader(string(encoded))
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.AddCookie(&http.Cookie{Name: defaultCookieName, Value: token})
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s testServer) seed(t *testing.T, author tuners.Identity, prompt, url, size string) tuners.Tuner {
	t.Helper()
	tuner, err := s.service.SaveTuner(context.Background(), author, tuners.TunerInput{Prompt: prompt, URL: url, Size: size})
	if err != nil {
		t.Fatalf("failed to seed tuner: %v", err)
	}
	return tuner
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func tunerURL(index int) string {
	return fmt.Sprintf("https://tuner.midjourney.com/abc%04d", index)
}
