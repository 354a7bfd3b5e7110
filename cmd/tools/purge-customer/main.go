package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowindex/latencyctl/internal/latency"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost:5432/latencyctl?sslmode=disable"
	}

	if len(os.Args) != 2 {
		log.Fatalf("usage: purge-customer <customer_id>")
	}
	customerID, err := strconv.ParseUint(os.Args[1], 10, 32)
	if err != nil {
		log.Fatalf("invalid customer_id %q: %v", os.Args[1], err)
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatalf("Unable to parse DB URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	id := latency.CustomerID(customerID)

	tag, err := pool.Exec(ctx, `
		DELETE FROM latency_seconds
		WHERE monitor_id IN (SELECT monitor_id FROM monitor WHERE customer_id = $1)`, uint32(id))
	if err != nil {
		log.Fatalf("Failed to purge raw samples: %v", err)
	}
	fmt.Printf("Deleted %d raw row(s) for customer %d.\n", tag.RowsAffected(), id)

	tag, err = pool.Exec(ctx, `
		DELETE FROM latency_aggregated
		WHERE monitor_id IN (SELECT monitor_id FROM monitor WHERE customer_id = $1)`, uint32(id))
	if err != nil {
		log.Fatalf("Failed to purge aggregated rows: %v", err)
	}
	fmt.Printf("Deleted %d aggregated row(s) for customer %d.\n", tag.RowsAffected(), id)
}
