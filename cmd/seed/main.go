// Command main seeds a development database and prints a bearer token per user.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"relay/internal/config"
	"relay/internal/database"
	"relay/internal/middleware"
	"relay/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 5, "Number of users to create")
	numMessages := flag.Int("messages", 20, "Messages per chat")
	numNotifications := flag.Int("notifications", 10, "Notifications to create")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Skip bcrypt hashing")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of printed tokens")
	flag.Parse()

	log.Printf("Target: %d users, %d messages per chat, clean=%v", *numUsers, *numMessages, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Seeding also targets production-profile databases, which Connect does not migrate.
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	s := seed.NewSeeder(db)
	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	res, err := s.Seed(seed.Options{
		NumUsers:        *numUsers,
		MessagesPerChat: *numMessages,
		Notifications:   *numNotifications,
		SkipBcrypt:      *fast,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	for _, u := range res.Users {
		token, err := middleware.IssueToken(cfg.JWTSecret, u.ID, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token for user %d: %v", u.ID, err)
		}
		fmt.Printf("%d\t%s\t%s\n", u.ID, u.Username, token)
	}
	for _, c := range res.Chats {
		fmt.Printf("chat %d\tparticipants=%v\n", c.ID, c.ParticipantIDs())
	}

	log.Printf("Done. All seeded users have the password: %s", seed.DefaultPassword)
}
