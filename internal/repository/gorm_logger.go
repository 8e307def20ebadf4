package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/bloodcell/internal/logger"
)

// gormLogger routes gorm output through the context logger so queries carry
// the request and analysis ids.
type gormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{level: level, slowThreshold: 200 * time.Millisecond}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.With(logger.Fields{logger.FieldComponent: "gorm"}).Info(ctx, msg, args...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.With(logger.Fields{logger.FieldComponent: "gorm"}).Warn(ctx, msg, args...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.With(logger.Fields{logger.FieldComponent: "gorm"}).Error(ctx, msg, args...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	entry := logger.With(logger.Fields{
		logger.FieldComponent: "gorm",
		logger.FieldCount:     rows,
		"sql":                 sql,
	}).WithDuration(elapsed)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		entry.WithField("error", err.Error()).Error(ctx, "Query failed")
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		entry.Warn(ctx, "Slow query")
	case l.level >= gormlogger.Info:
		entry.Debug(ctx, "Query")
	}
}
