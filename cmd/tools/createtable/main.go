package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"payline.dev/app/internal/modules/payments"
	"payline.dev/app/internal/modules/reconcile"
	"payline.dev/app/internal/modules/webhooks"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&payments.PaymentIntent{},
		&payments.Charge{},
		&payments.Refund{},
		&payments.IntentStatusEvent{},
		&webhooks.WebhookEvent{},
		&reconcile.ReconciliationRun{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate tables: %v", err)
	}

	log.Println("✓ tables migrated successfully")
}
