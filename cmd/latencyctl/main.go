// Command latencyctl is the process entrypoint: it wires the database pool,
// catalogs, ingest router, aggregator tier chain, query layer, outbound
// dispatcher, plot worker, and HTTP API together and runs until a shutdown
// signal arrives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/flowindex/latencyctl/internal/aggregator"
	"github.com/flowindex/latencyctl/internal/api"
	"github.com/flowindex/latencyctl/internal/catalog"
	"github.com/flowindex/latencyctl/internal/config"
	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/dispatch"
	"github.com/flowindex/latencyctl/internal/eventbus"
	"github.com/flowindex/latencyctl/internal/ingest"
	"github.com/flowindex/latencyctl/internal/plot"
	"github.com/flowindex/latencyctl/internal/query"
)

func main() {
	cfg := config.Load()

	log.Println("Initializing latencyctl...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("API Port: %d", cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := dbpool.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	if cfg.SeedFixturesPath != "" {
		fixtures, err := config.LoadFixtures(cfg.SeedFixturesPath)
		if err != nil {
			log.Fatalf("Failed to load seed fixtures: %v", err)
		}
		if err := config.Seed(ctx, db, fixtures); err != nil {
			log.Fatalf("Failed to seed fixtures: %v", err)
		}
		log.Printf("Seeded fixtures from %s", cfg.SeedFixturesPath)
	}

	servers := catalog.NewServers(db)
	monitors := catalog.NewMonitors(db)
	customers := catalog.NewCustomers(db)

	router := ingest.NewRouter(ctx, db, servers, monitors, customers)

	aggregators := make(map[string]*aggregator.Aggregator, len(cfg.AggregatorTiers))
	for _, tier := range cfg.AggregatorTiers {
		agg := aggregator.New(db, aggregator.Params{
			InputTable:       tier.InputTable,
			OutputTable:      tier.OutputTable,
			InputTableMaxAge: tier.InputTableMaxAge,
			ResamplePeriod:   tier.ResamplePeriod,
			ExpungePeriod:    tier.ExpungePeriod,
			InputAggregated:  tier.InputAggregated,
		})
		agg.Start(ctx)
		aggregators[tier.Name] = agg
		log.Printf("[aggregator:%s] started (resample=%s expunge=%s)", tier.Name, tier.ResamplePeriod, tier.ExpungePeriod)
	}

	queryLayer := query.New(db)

	dispatchFactory := dispatch.NewFactory(ctx)
	dispatchFactory.SetMaxIdle(cfg.DispatchMaxIdle)

	bus := eventbus.New()
	defer bus.Close()
	for _, agg := range aggregators {
		agg.SetEventBus(bus)
	}
	startTickNotifier(ctx, bus, dispatchFactory)

	plotWorker := plot.NewWorker(64)
	plotWorker.Start(ctx)

	apiServer := api.NewServer(router, queryLayer, servers, monitors, customers, aggregators, plotWorker)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: apiServer.Routes(),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Starting API server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	router.Shutdown(shutdownCtx)
	for name, agg := range aggregators {
		agg.Shutdown(shutdownCtx)
		log.Printf("[aggregator:%s] stopped", name)
	}
	plotWorker.Shutdown(shutdownCtx)
	dispatchFactory.Shutdown()

	cancel()
	wg.Wait()
}

// startTickNotifier forwards each "aggregator.tick" event as a webhook POST
// via dispatchFactory, when AGGREGATOR_WEBHOOK_URL is configured. This is
// the "external event/notification code" spec.md describes as the
// OutboundDispatcher's caller.
func startTickNotifier(ctx context.Context, bus *eventbus.Bus, factory *dispatch.Factory) {
	webhookURL := os.Getenv("AGGREGATOR_WEBHOOK_URL")
	if webhookURL == "" {
		return
	}

	ch := make(chan eventbus.Event, 16)
	bus.Subscribe("aggregator.tick", ch)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				body, err := json.Marshal(evt.Data)
				if err != nil {
					log.Printf("[tick-notifier] marshal: %v", err)
					continue
				}
				factory.Enqueue(dispatch.Request{
					URL:         webhookURL,
					ContentType: "application/json",
					Body:        body,
				})
			}
		}
	}()
}

func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	return raw
}
