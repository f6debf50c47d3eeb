package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	demoUserID     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	demoDriverID   = uuid.MustParse("00000000-0000-0000-0000-000000000101")
	riskyDriverID  = uuid.MustParse("00000000-0000-0000-0000-000000000102")
	demoAdminID    = "admin-demo"
	demoAdminEmail = "ops@swiftride.local"
)

func main() {
	env := getEnv("FINCORE_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: FINCORE_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "fincore")
	user := getEnv("POSTGRES_USER", "fincore")
	password := getEnv("POSTGRES_PASSWORD", "fincore")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if err := seedDrivers(ctx, pool); err != nil {
		log.Fatalf("seed drivers: %v", err)
	}
	fmt.Println("✓ Drivers seeded")

	if err := seedDriverMetrics(ctx, pool); err != nil {
		log.Fatalf("seed driver metrics: %v", err)
	}
	fmt.Println("✓ Driver metrics seeded")

	if err := seedLedger(ctx, pool); err != nil {
		log.Fatalf("seed ledger: %v", err)
	}
	fmt.Println("✓ Ledger seeded")

	if err := seedAuditActions(ctx, pool); err != nil {
		log.Fatalf("seed audit actions: %v", err)
	}
	fmt.Println("✓ Audit actions seeded")

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo entities:")
	fmt.Printf("  User:   %s (asha@example.com)\n", demoUserID)
	fmt.Printf("  Driver: %s (ravi@example.com, clean record)\n", demoDriverID)
	fmt.Printf("  Driver: %s (vikram@example.com, high cancel rate)\n", riskyDriverID)
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, email, status, wallet_balance)
		VALUES ($1, 'Asha Patel', 'asha@example.com', 'active', 250.00)
		ON CONFLICT (id) DO NOTHING`,
		demoUserID,
	)
	return err
}

func seedDrivers(ctx context.Context, pool *pgxpool.Pool) error {
	drivers := []struct {
		id      uuid.UUID
		name    string
		email   string
		rating  float64
		balance string
	}{
		{demoDriverID, "Ravi Kumar", "ravi@example.com", 4.8, "1200.00"},
		{riskyDriverID, "Vikram Singh", "vikram@example.com", 3.9, "-150.00"},
	}
	for _, d := range drivers {
		_, err := pool.Exec(ctx, `
			INSERT INTO drivers (id, name, email, status, rating, wallet_balance, license_status, rc_status)
			VALUES ($1, $2, $3, 'active', $4, $5, 'verified', 'verified')
			ON CONFLICT (id) DO NOTHING`,
			d.id, d.name, d.email, d.rating, d.balance,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedDriverMetrics(ctx context.Context, pool *pgxpool.Pool) error {
	metrics := []struct {
		id                   uuid.UUID
		completed, cancelled int64
		reports              int64
	}{
		{demoDriverID, 480, 12, 0},
		{riskyDriverID, 70, 30, 1},
	}
	for _, m := range metrics {
		_, err := pool.Exec(ctx, `
			INSERT INTO driver_metrics (driver_id, completed_rides, cancelled_rides, report_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (driver_id) DO UPDATE
			SET completed_rides = EXCLUDED.completed_rides,
			    cancelled_rides = EXCLUDED.cancelled_rides,
			    report_count    = EXCLUDED.report_count,
			    updated_at      = now()`,
			m.id, m.completed, m.cancelled, m.reports,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedLedger(ctx context.Context, pool *pgxpool.Pool) error {
	txnID := uuid.New()
	now := time.Now().UTC()
	entries := []struct {
		account   string
		holderID  *uuid.UUID
		entryType string
	}{
		{"driver_wallet", &demoDriverID, "debit"},
		{"platform_revenue", nil, "credit"},
	}
	for _, e := range entries {
		_, err := pool.Exec(ctx, `
			INSERT INTO ledger_entries
			  (id, transaction_id, account, holder_id, entry_type, amount, currency, description, reference_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, 24.69, 'INR', 'Ride commission: ride-seed-1', 'ride-seed-1', '{"fare": 123.45, "percent": 20, "type": "commission"}', $6)
			ON CONFLICT DO NOTHING`,
			uuid.New(), txnID, e.account, e.holderID, e.entryType, now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedAuditActions(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO audit_actions (id, admin_id, admin_email, action, target_type, target_id, target_name, reason, metadata)
		VALUES ($1, $2, $3, 'wallet_adjustment', 'driver', $4, 'Ravi Kumar', 'seed data', '{"amount": 24.69, "type": "deduct"}')
		ON CONFLICT (id) DO NOTHING`,
		uuid.New(), demoAdminID, demoAdminEmail, demoDriverID.String(),
	)
	return err
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
