package repositories

import (
	"fmt"

	"github.com/sjaiswal27/courierdrop/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Connect opens the postgres database, runs migrations, and stores the
// handle in the package-level DB.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	DB = db
	return db, nil
}

// Migrate runs schema migrations for all models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Transfer{},
		&models.TransferFile{},
		&models.File{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
