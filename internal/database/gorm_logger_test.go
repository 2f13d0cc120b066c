package database

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestOpenSQLiteSkipsMissingRowsInLogs(testContext *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "quiet.db"), zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	logs.TakeAll()

	var profile users.Profile
	err = database.Where("user_id = ?", "missing").Take(&profile).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		testContext.Fatalf("expected record not found, got %v", err)
	}
	if logs.Len() != 0 {
		testContext.Fatalf("missing rows must not be logged, got %v", logs.All())
	}

	if err := database.Table("no_such_table").Take(&profile).Error; err == nil {
		testContext.Fatalf("expected a query error for an unknown table")
	}
	entries := logs.FilterLoggerName("gorm").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		testContext.Fatalf("expected one gorm warning for the failed query, got %v", logs.All())
	}
}

func TestNewGormLoggerWithoutZapDiscards(testContext *testing.T) {
	if NewGormLogger(nil) == nil {
		testContext.Fatalf("expected a usable logger")
	}
}
