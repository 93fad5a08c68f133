package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/gohive/queen/internal/platform/logger"
	"github.com/gohive/queen/internal/platform/sqldialect"
	"github.com/gohive/queen/internal/utils"
)

// Service owns the gorm handle and knows which dialect it opened, so repos can
// pick dialect-specific SQL fragments without re-sniffing the driver.
type Service struct {
	db      *gorm.DB
	dialect sqldialect.Dialect
	log     *logger.Logger
}

// New opens the coordinator's database according to HIVE_DB_DRIVER ("postgres",
// the default, or "sqlite"). A beekeeper running a single all-in-one valley can
// set HIVE_DB_DRIVER=sqlite and HIVE_SQLITE_PATH to avoid standing up Postgres,
// trading away multi-process concurrency for a zero-dependency footprint.
func New(logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "db.Service")

	driver := utils.GetEnv("HIVE_DB_DRIVER", "postgres", logg)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	switch driver {
	case "sqlite":
		path := utils.GetEnv("HIVE_SQLITE_PATH", "hive.sqlite3", logg)
		gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return &Service{db: gdb, dialect: sqldialect.New(sqldialect.SQLite), log: serviceLog}, nil
	default:
		host := utils.GetEnv("HIVE_POSTGRES_HOST", "localhost", logg)
		port := utils.GetEnv("HIVE_POSTGRES_PORT", "5432", logg)
		user := utils.GetEnv("HIVE_POSTGRES_USER", "postgres", logg)
		password := utils.GetEnv("HIVE_POSTGRES_PASSWORD", "", logg)
		name := utils.GetEnv("HIVE_POSTGRES_NAME", "hive", logg)

		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, name,
		)
		gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger: gormLog,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return &Service{db: gdb, dialect: sqldialect.New(sqldialect.Postgres), log: serviceLog}, nil
	}
}

func (s *Service) DB() *gorm.DB                { return s.db }
func (s *Service) Dialect() sqldialect.Dialect { return s.dialect }

// OpenURL opens a database directly from a connection string, for
// command-line tools (spec.md §6's profiler CLI --url flag) that have no
// beekeeper config to source HIVE_DB_DRIVER/HIVE_POSTGRES_* from. A
// "sqlite://" prefix or a bare path ending in ".sqlite3"/".db" opens SQLite;
// anything else is passed straight to the Postgres driver.
func OpenURL(logg *logger.Logger, url string) (*Service, error) {
	serviceLog := logg.With("service", "db.Service")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	if isSQLiteURL(url) {
		path := strings.TrimPrefix(url, "sqlite://")
		gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
		}
		return &Service{db: gdb, dialect: sqldialect.New(sqldialect.SQLite), log: serviceLog}, nil
	}

	gdb, err := gorm.Open(postgres.Open(url), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &Service{db: gdb, dialect: sqldialect.New(sqldialect.Postgres), log: serviceLog}, nil
}

func isSQLiteURL(url string) bool {
	if strings.HasPrefix(url, "sqlite://") {
		return true
	}
	return strings.HasSuffix(url, ".sqlite3") || strings.HasSuffix(url, ".db")
}
