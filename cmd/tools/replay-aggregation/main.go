package main

import (
	"context"
	"fmt"
	"log"

	"github.com/flowindex/latencyctl/internal/aggregator"
	"github.com/flowindex/latencyctl/internal/config"
	"github.com/flowindex/latencyctl/internal/dbpool"
)

// replay-aggregation forces one Tick of every configured aggregator tier,
// in order, without waiting for the regular resamplePeriod ticker. Useful
// after a backfill or to catch up a tier that was paused.
func main() {
	cfg := config.Load()

	ctx := context.Background()
	db, err := dbpool.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	for _, tier := range cfg.AggregatorTiers {
		agg := aggregator.New(db, aggregator.Params{
			InputTable:       tier.InputTable,
			OutputTable:      tier.OutputTable,
			InputTableMaxAge: tier.InputTableMaxAge,
			ResamplePeriod:   tier.ResamplePeriod,
			ExpungePeriod:    tier.ExpungePeriod,
			InputAggregated:  tier.InputAggregated,
		})
		if err := agg.Tick(ctx); err != nil {
			log.Fatalf("Tier %q tick failed: %v", tier.Name, err)
		}
		fmt.Printf("Tier %q: tick complete (%s -> %s, resample=%s)\n", tier.Name, tier.InputTable, tier.OutputTable, tier.ResamplePeriod)
	}
}
