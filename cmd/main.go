/**
 * @description
 * This is the main entry point for the registration service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, external API clients, the message broker producer, the
 * repository, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/registryclient, pkg/billingclient: Clients for the compliance registry and billing gateway.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/brysonmccleary/covecrm-registration-service/internal/api"
	"github.com/brysonmccleary/covecrm-registration-service/internal/app"
	"github.com/brysonmccleary/covecrm-registration-service/internal/config"
	"github.com/brysonmccleary/covecrm-registration-service/internal/store"
	"github.com/brysonmccleary/covecrm-registration-service/pkg/billingclient"
	rmrabbit "github.com/brysonmccleary/covecrm-registration-service/pkg/rabbitmq"
	"github.com/brysonmccleary/covecrm-registration-service/pkg/registryclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.CronSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"cron secret must be configured\" env=CRON_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting registration-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish registration events.
	// This service only publishes, so a producer is enough.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the clients for the compliance registry and billing gateway.
	registryClient := registryclient.NewClient(cfg.RegistryAPIBaseURL, cfg.RegistryAPIKey)
	billingClient := billingclient.NewClient(cfg.BillingAPIBaseURL, cfg.BillingAPIKey)

	// Redis backs webhook event dedup across instances. Without it the
	// in-memory deduper covers a single process.
	var deduper app.EventDeduper = app.NewMemoryEventDeduper()
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook dedup is per-process only\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook dedup is per-process only\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook dedup is per-process only\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				deduper = app.NewRedisEventDeduper(redisClient, cfg.RedisDedupPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewRepository(dbpool)

	// Initialize the core application service with its dependencies.
	registrationService := app.NewService(repository, registryClient, billingClient, producer)
	registrationService.SetPendingSyncBatchSize(cfg.PendingSyncBatchSize)

	// Initialize the API handlers.
	registrationHandlers := api.NewRegistrationHandlers(registrationService, deduper, cfg.RegistryWebhookSecret)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/registration", api.RegistrationRoutes(registrationHandlers, cfg.ClerkJWKSURL, cfg.CronSecret))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
