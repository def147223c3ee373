package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"bookdesk/config"
	"bookdesk/internal/services"
	"bookdesk/pkg/database"
)

const usage = `
Bookdesk - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create or update every table
  status      Show database connection and table status
  seed        Create or refresh admin accounts and print their access tokens

Flags:
  -admins string   Admins to seed as "name|email|telegramChatID", comma separated
                   (default $ADMIN_SEEDS)

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate -admins "Alice|alice@shop.example|123456" seed
`

func main() {
	admins := flag.String("admins", os.Getenv("ADMIN_SEEDS"), "Admins to seed")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	if _, err := database.Connect(cfg); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch command := flag.Arg(0); command {
	case "up":
		runMigrationsUp()
	case "status":
		showStatus(ctx)
	case "seed":
		runSeed(ctx, cfg, *admins)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp() {
	log.Println("🚀 Running migrations UP...")

	if err := database.AutoMigrate(database.DB); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus(ctx context.Context) {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(ctx); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables, err := database.Status(ctx, database.DB)
	if err != nil {
		log.Fatalf("❌ Status check failed: %v", err)
	}
	for _, t := range tables {
		if t.Exists {
			log.Printf("✅ Table %-20s exists (%d rows)", t.Table, t.Rows)
		} else {
			log.Printf("❌ Table %-20s does not exist", t.Table)
		}
	}
}

func runSeed(ctx context.Context, cfg *config.Config, raw string) {
	log.Println("🌱 Seeding admin accounts...")

	seeds, err := database.ParseAdminSeeds(raw)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if len(seeds) == 0 {
		log.Fatalf("❌ No admins given; pass -admins or set ADMIN_SEEDS")
	}

	admins, err := database.SeedAdmins(ctx, database.DB, seeds)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	auth := services.NewAuthService(cfg.JWTSecret, time.Duration(cfg.JWTExpiryMin)*time.Minute)
	for _, a := range admins {
		token, err := auth.IssueAccessToken(a.ID, a.Role)
		if err != nil {
			log.Fatalf("❌ Token for %s: %v", a.Email, err)
		}
		log.Printf("✅ Admin %s (ID: %s)", a.Email, a.ID)
		fmt.Printf("%s\t%s\n", a.Email, token)
	}
	log.Println("✅ Seeding completed!")
}
