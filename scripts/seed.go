//go:build ignore

package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/config"
	"github.com/hugh/salesdesk/pkg/crypto"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env, "seed")

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.RunMigrations(db, logger); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	email := auth.NormalizeEmail(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	name := os.Getenv("ADMIN_NAME")

	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		log.Fatal("ADMIN_PASSWORD must be set")
	}
	if name == "" {
		name = "Admin"
	}

	var existing models.User
	err = db.Where("LOWER(email) = ?", email).First(&existing).Error
	if err == nil {
		fmt.Printf("Admin user already exists: %s\n", email)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("failed to look up admin user: %v", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	admin := models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.RoleAdmin,
		Status:       models.UserStatusActive,
		Department:   models.DepartmentAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		log.Fatalf("failed to create admin user: %v", err)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", admin.Email)

	if cfg.Encryption.Key == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("failed to generate encryption key: %v", err)
		}
		fmt.Printf("\nENCRYPTION_KEY is not set. Stored secrets will not survive a restart.\n")
		fmt.Printf("Add this to .env:\nENCRYPTION_KEY=%s\n", key)
	}
}
