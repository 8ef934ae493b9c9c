package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/subgate/subgate/internal/store/postgres"
)

// Standalone migration runner. Takes a connection string as the first
// argument, otherwise falls back to SUBGATE_DATABASE_URL.
func main() {
	ctx := context.Background()

	connStr := os.Getenv("SUBGATE_DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatal("usage: migrate <connection-string> (or set SUBGATE_DATABASE_URL)")
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping: %v", err)
	}

	fmt.Println("✓ Connected to database")

	if _, err := db.ExecContext(ctx, postgres.InitialSchema); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println("✓ Applied 001_initial_schema.up.sql")
	fmt.Println("Done.")
}
