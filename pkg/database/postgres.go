package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vmforge/engine/pkg/config"
	"github.com/vmforge/engine/pkg/logger"
)

const (
	connectRetries   = 5
	baseRetryDelay   = 500 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
	slowQueryCutoff  = 200 * time.Millisecond
	poolMaxOpen      = 25
	poolMaxIdle      = 25
	poolConnLifetime = 5 * time.Minute
)

// OpenPostgres dials Postgres through gorm with exponential-backoff retries,
// configures the connection pool and verifies the link with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	level := gormlogger.Silent
	if env := config.Get().AppEnv; env == "development" || env == "test" {
		level = gormlogger.Warn
	}

	var db *gorm.DB
	var err error
	for attempt := 0; ; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormZap{zap: logger.L(), level: level},
		})
		if err == nil {
			break
		}
		if attempt >= connectRetries {
			return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", attempt+1, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("postgres connect aborted: %w", ctx.Err())
		case <-time.After(retryDelay(attempt)):
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(poolMaxOpen)
	sqlDB.SetMaxIdleConns(poolMaxIdle)
	sqlDB.SetConnMaxLifetime(poolConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return db, nil
}

func retryDelay(attempt int) time.Duration {
	d := baseRetryDelay << attempt
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// gormZap routes gorm's logger interface onto the process zap logger.
type gormZap struct {
	zap   *zap.Logger
	level gormlogger.LogLevel
}

func (l gormZap) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	l.level = level
	return l
}

func (l gormZap) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.zap.Sugar().Infof(msg, args...)
	}
}

func (l gormZap) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.zap.Sugar().Warnf(msg, args...)
	}
}

func (l gormZap) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.zap.Sugar().Errorf(msg, args...)
	}
}

func (l gormZap) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlogger.Silent {
		return
	}
	sql, rows := fc()
	elapsed := time.Since(begin)
	fields := []zap.Field{
		zap.Duration("duration", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.zap.Error("query failed", append(fields, zap.Error(err))...)
	case elapsed > slowQueryCutoff:
		l.zap.Warn("slow query", fields...)
	default:
		l.zap.Debug("query", fields...)
	}
}
