package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

type zapGormWriter struct {
	logger *zap.Logger
}

func (w zapGormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn("gorm", zap.String("detail", fmt.Sprintf(format, args...)))
}

// NewGormLogger routes gorm diagnostics into zap. Missing rows are an expected
// outcome of key-value lookups and are not logged.
func NewGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	return gormlogger.New(zapGormWriter{logger: logger.Named("gorm")}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
