package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/drluca/shopstream/ordercore/config"
	"github.com/drluca/shopstream/ordercore/internal/cache"
	"github.com/drluca/shopstream/ordercore/internal/catalog"
	"github.com/drluca/shopstream/ordercore/internal/coupons"
	"github.com/drluca/shopstream/ordercore/internal/eventbus"
	"github.com/drluca/shopstream/ordercore/internal/ledger"
	"github.com/drluca/shopstream/ordercore/internal/models"
	"github.com/drluca/shopstream/ordercore/internal/order"
	"github.com/drluca/shopstream/ordercore/internal/payment"
	"github.com/drluca/shopstream/ordercore/internal/reservation"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("appName", cfg.AppName).Msg("Application starting")

	// --- Initializations ---

	var store ledger.Store
	memoryStore := ledger.NewMemoryStore()
	switch cfg.LedgerBackend {
	case "postgres":
		pg, err := ledger.NewPostgresStore(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Postgres ledger")
		}
		defer pg.Close()
		store = pg
	default:
		store = memoryStore
	}

	var stockCache cache.StockCache
	switch cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		stockCache = cache.NewRedisCache(client, cfg.RedisKeyPrefix, cfg.CacheTTL)
	default:
		stockCache = cache.NewMemoryCache(store, cfg.CacheTTL)
	}

	var bus order.Publisher
	if cfg.EventBusEnabled {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ publisher")
		}
		defer publisher.Close()
		bus = publisher
	}

	priceCatalog := catalog.NewMemory()
	couponRegistry := coupons.NewRegistry()
	gateway := payment.NewSimulatedGateway(cfg.PaymentSuccessRate, cfg.PaymentLatency, cfg.RandomSeed)
	reservations := reservation.NewManager(store, stockCache, cfg.CASMaxRetries)

	machine := order.NewStateMachine(order.Deps{
		Ledger:         store,
		Reservations:   reservations,
		Cache:          stockCache,
		Catalog:        priceCatalog,
		Coupons:        couponRegistry,
		Payments:       gateway,
		Bus:            bus,
		PaymentTimeout: cfg.PaymentTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resume any commit interrupted by a previous shutdown before taking
	// traffic.
	if err := machine.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Commit recovery scan failed")
	}

	sweeper := reservation.NewSweeper(reservations, cfg.SweepInterval)
	go sweeper.Start(ctx)

	if cfg.LedgerBackend != "postgres" {
		seedDemoData(memoryStore, priceCatalog, couponRegistry)
		go runDemo(ctx, cfg, machine, store)
	}

	log.Info().Msg("Application setup complete.")
	log.Info().Msg("Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Application shutting down...")
	cancel()
}

func seedDemoData(store *ledger.MemoryStore, priceCatalog *catalog.Memory, registry *coupons.Registry) {
	products := []struct {
		id    string
		price int64
		stock int64
	}{
		{"laptop", 5000000, 5},
		{"book", 50000, 10},
		{"mug", 25000, 20},
		{"cable", 9900, 50},
	}
	for _, p := range products {
		store.SeedStock(p.id, p.stock)
		priceCatalog.SetPrice(p.id, p.price)
	}
	registry.Add(models.Coupon{
		Code:        "EVERY10",
		Kind:        models.DiscountPercentage,
		Value:       10,
		MinPurchase: 3000000,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	})
	registry.Add(models.Coupon{
		Code:        "BOOK50",
		Kind:        models.DiscountFixed,
		Value:       5000,
		MinPurchase: 10000,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	})
}

// runDemo fires a batch of concurrent checkouts against the seeded stock and
// reports outcome counts, mirroring a bulk-order simulation.
func runDemo(ctx context.Context, cfg config.Config, machine *order.StateMachine, store ledger.Store) {
	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	productIDs := []string{"laptop", "book", "mug", "cable"}
	couponCodes := []string{"EVERY10", "BOOK50"}

	type carts struct {
		items   []models.OrderItem
		coupons []string
	}
	jobs := make([]carts, cfg.DemoOrders)
	for i := range jobs {
		n := 1 + rng.Intn(2)
		for j := 0; j < n; j++ {
			jobs[i].items = append(jobs[i].items, models.OrderItem{
				ProductID: productIDs[rng.Intn(len(productIDs))],
				Quantity:  int64(1 + rng.Intn(3)),
			})
		}
		if rng.Float64() < cfg.DemoCouponProbability {
			jobs[i].coupons = []string{couponCodes[rng.Intn(len(couponCodes))]}
		}
	}

	var (
		mu        sync.Mutex
		committed int
		failed    int
		reasons   = make(map[string]int)
	)
	var wg sync.WaitGroup
	start := time.Now()
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job carts) {
			defer wg.Done()
			customerID := fmt.Sprintf("customer-%03d", i%10)
			result, err := machine.SubmitOrder(ctx, customerID, job.items, job.coupons, "credit_card", cfg.ReservationTTL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				reasons["infrastructure"]++
				return
			}
			if result.Status == models.OrderStatusCommitted {
				committed++
			} else {
				failed++
				reasons[result.FailureReason]++
			}
		}(i, job)
	}
	wg.Wait()

	log.Info().
		Int("committed", committed).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("Demo run complete")
	for reason, count := range reasons {
		log.Info().Str("reason", reason).Int("count", count).Msg("Failure breakdown")
	}

	records, err := store.ListStock(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Could not read final stock")
		return
	}
	for _, rec := range catalog.LowStock(records, cfg.LowStockThreshold) {
		log.Warn().Str("productId", rec.ProductID).Int64("available", rec.AvailableQty).Msg("Low stock")
	}
}
