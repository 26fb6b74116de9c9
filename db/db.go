package db

import (
	"fmt"
	"log"
	"os"

	"uobsw2project/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN returns DATABASE_URL, or builds a key/value DSN from the DB_* variables.
func DSN() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
}

func Open(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func ConnectDB(dsn string, debug bool) *gorm.DB {
	conn, err := Open(dsn, debug)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	log.Println("Database connected")
	return conn
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{}, &models.Credential{}, &models.Invite{}, &models.AuditLog{},
		&models.Student{}, &models.Device{}, &models.Loan{},
	); err != nil {
		return err
	}

	// At most one open loan per device and per student.
	for _, idx := range []struct{ name, col string }{
		{models.IdxLoanOpenPerDevice, "device_id"},
		{models.IdxLoanOpenPerStudent, "student_id"},
	} {
		if err := db.Exec(fmt.Sprintf(`
		  CREATE UNIQUE INDEX IF NOT EXISTS %s
		  ON %s (%s)
		  WHERE returndatetime IS NULL;
		`, idx.name, models.LoanTable, idx.col)).Error; err != nil {
			return err
		}
	}

	// Loan history reads.
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_device_borrowed_desc
	  ON %s (device_id, borrowdatetime DESC);
	`, models.LoanTable, models.LoanTable)).Error; err != nil {
		return err
	}

	return nil
}
