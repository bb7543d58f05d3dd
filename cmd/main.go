/**
 * @description
 * This is the main entry point for the membership service. It is responsible
 * for initializing all components: configuration, database connection pool,
 * message broker producer, optional Redis rate limiter, repositories, the
 * core application service, the reminder scheduler, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP serving.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/clock, internal/config,
 *   internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Event producer for downstream consumers.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/iheykal/maandhise-sub000/internal/api"
	"github.com/iheykal/maandhise-sub000/internal/app"
	appclock "github.com/iheykal/maandhise-sub000/internal/clock"
	"github.com/iheykal/maandhise-sub000/internal/config"
	"github.com/iheykal/maandhise-sub000/internal/store"
	rmrabbit "github.com/iheykal/maandhise-sub000/pkg/rabbitmq"
)

func main() {
	// Load a local .env during development; ignored when absent.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting membership service\" port=%s", cfg.ServerPort)

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

	// Initialize the RabbitMQ producer to publish events. The engine keeps
	// serving with the no-op fallback when the broker is unreachable.
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

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Ensure required tables exist (idempotent)
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS memberships (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            subject_id TEXT NOT NULL,
            full_name TEXT NOT NULL,
            phone TEXT NOT NULL,
            monthly_fee BIGINT NOT NULL,
            valid_until TIMESTAMPTZ NOT NULL,
            next_payment_due TIMESTAMPTZ NOT NULL,
            cancelled BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_memberships_phone ON memberships (phone);
        CREATE INDEX IF NOT EXISTS idx_memberships_next_due ON memberships (next_payment_due) WHERE cancelled = FALSE;
        CREATE TABLE IF NOT EXISTS payment_records (
            seq BIGSERIAL,
            id UUID PRIMARY KEY,
            membership_id UUID NOT NULL REFERENCES memberships(id),
            paid_at TIMESTAMPTZ NOT NULL,
            amount BIGINT NOT NULL,
            method TEXT NOT NULL,
            transaction_id TEXT,
            months_granted INT NOT NULL,
            valid_until_after TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_payment_records_membership ON payment_records (membership_id, seq);
        CREATE TABLE IF NOT EXISTS pending_referrals (
            id UUID PRIMARY KEY,
            full_name TEXT NOT NULL,
            phone TEXT NOT NULL,
            id_number TEXT,
            location TEXT,
            photo_ref TEXT,
            amount BIGINT NOT NULL,
            submitted_by TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            reviewed_by TEXT,
            reviewed_at TIMESTAMPTZ,
            rejection_reason TEXT,
            membership_id UUID,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_pending_referrals_status ON pending_referrals (status, created_at DESC);
        CREATE TABLE IF NOT EXISTS commission_credits (
            id UUID PRIMARY KEY,
            marketer_id TEXT NOT NULL,
            referral_id UUID NOT NULL UNIQUE,
            amount BIGINT NOT NULL,
            credited_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_commission_credits_marketer ON commission_credits (marketer_id);
    `); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}

	// Initialize the core application service with its dependencies.
	service := app.NewService(repository, producer, appclock.System(), app.RuleConfig{
		MonthlyFeeCents:   cfg.MonthlyFeeCents,
		CommissionRateBps: cfg.CommissionRateBps,
		GracePeriod:       cfg.GracePeriod(),
		FlexibleMinMonths: cfg.FlexibleMinMonths,
		FlexibleMaxMonths: cfg.FlexibleMaxMonths,
	})

	// Optional Redis-backed rate limiting for referral submissions.
	if cfg.ReferralSubmitRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; referral rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; referral rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; referral rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					service.SetReferralRateLimiter(
						app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
						cfg.ReferralSubmitRateLimitPerMinute,
					)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Start the payment reminder scheduler.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, producer, appclock.System(), slogger, cfg.ReminderWindow())
	scheduler := app.NewScheduler(jobs, slogger, cfg.ReminderJobSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(service)
	router := chi.NewRouter()
	router.Mount("/", api.Routes(handlers, cfg.JWTSecret))

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
