package models

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectDataBase Open the slide index database and migrate the tables
func ConnectDataBase(driver string, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
		log.Info(fmt.Sprintf("Connecting sqlite database at %s", dsn))
	case "mysql":
		// Parse first so the log line never carries the password
		parsed, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing mysql dsn: %w", err)
		}
		parsed.ParseTime = true
		dialector = mysql.Open(parsed.FormatDSN())
		log.Info(fmt.Sprintf("Connecting mysql database %s at %s", parsed.DBName, parsed.Addr))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect %s database: %w", driver, err)
	}

	if err := db.AutoMigrate(&Slide{}, &MetadataRecord{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}
