// Package store persists conversations, messages, knowledge entries and
// rate-limit windows through GORM. PostgreSQL (with the pgvector extension)
// is the production backend; SQLite serves local development and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// Store wraps the GORM connection.
type Store struct {
	db      *gorm.DB
	dialect string
	logger  *logger.Logger
}

// Open connects to the database named by dsn. PostgreSQL URLs and key/value
// DSNs select the postgres driver; anything else is treated as a SQLite path
// (":memory:" included).
func Open(dsn string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global()
	}

	stdLog, err := zap.NewStdLogAt(log.Logger.Named("gorm"), zapcore.WarnLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create gorm logger: %w", err)
	}

	gormLog := gormlogger.New(
		stdLog,
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	var (
		dialector gorm.Dialector
		dialect   string
	)
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
		dialect = dialectPostgres
	} else {
		dialector = sqlite.Open(sqliteDSN(dsn))
		dialect = dialectSQLite
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if dialect == dialectSQLite {
		// A single connection serializes writers and keeps :memory: databases
		// alive for the lifetime of the store.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &Store{db: db, dialect: dialect, logger: log}, nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

func sqliteDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// IsPostgres reports whether the store runs on PostgreSQL.
func (s *Store) IsPostgres() bool {
	return s.dialect == dialectPostgres
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	if s.IsPostgres() {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	}

	if err := db.AutoMigrate(
		&model.Conversation{},
		&model.Message{},
		&model.KnowledgeEntry{},
		&model.RateLimitWindow{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
