// Command seed creates initial sender and receiver accounts so a fresh
// deployment has users to exchange transfers between.
package main

import (
	"errors"
	"flag"
	"log"

	"github.com/sjaiswal27/courierdrop/internal/config"
	"github.com/sjaiswal27/courierdrop/internal/models"
	"github.com/sjaiswal27/courierdrop/internal/repositories"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func main() {
	senderEmail := flag.String("sender-email", "", "email for the seeded sender account")
	senderPassword := flag.String("sender-password", "", "password for the seeded sender account")
	receiverEmail := flag.String("receiver-email", "", "email for the seeded receiver account")
	receiverPassword := flag.String("receiver-password", "", "password for the seeded receiver account")
	flag.Parse()

	if *senderEmail == "" || *senderPassword == "" || *receiverEmail == "" || *receiverPassword == "" {
		flag.Usage()
		log.Fatal("all flags are required")
	}

	db, err := repositories.Connect(config.Envs.DB_URL)
	if err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}

	if err := seedUser(db, *senderEmail, *senderPassword); err != nil {
		log.Fatalf("Seeding sender failed: %v", err)
	}
	if err := seedUser(db, *receiverEmail, *receiverPassword); err != nil {
		log.Fatalf("Seeding receiver failed: %v", err)
	}

	log.Println("Seed complete.")
}

// seedUser creates the account if it does not already exist.
func seedUser(db *gorm.DB, email, password string) error {
	var existing models.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Create(&models.User{Email: email, PasswordHash: string(hashed)}).Error
}
