package data

import (
	"log"
	"strings"
	"time"

	"github.com/stake-plus/nombot/src/types"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MustMySQL opens a gorm DB, runs migrations and exits on failure.
func MustMySQL(dsn string) *gorm.DB {
	db, err := ConnectMySQL(dsn)
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	if err := Migrate(db); err != nil {
		log.Fatalf("mysql migrate: %v", err)
	}
	return db
}

// ConnectMySQL opens a gorm DB with sane defaults.
func ConnectMySQL(dsn string) (*gorm.DB, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}

	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
}

// Migrate creates or updates the schema for all models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Nominee{},
		&types.NomineeVote{},
		&types.Poll{},
		&types.Setting{},
	)
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}
