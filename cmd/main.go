/**
 * @description
 * This is the main entry point for the relay-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, external API clients, the message broker producer,
 * the repository, the core application service, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - internal/api, internal/app, internal/auth, internal/config, internal/store: Internal packages.
 * - pkg/checkoutclient, pkg/modelclient, pkg/smsclient, pkg/rabbitmq: External service clients.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/textrelay/relay-service/internal/api"
	"github.com/textrelay/relay-service/internal/app"
	"github.com/textrelay/relay-service/internal/auth"
	"github.com/textrelay/relay-service/internal/config"
	"github.com/textrelay/relay-service/internal/store"
	"github.com/textrelay/relay-service/pkg/checkoutclient"
	"github.com/textrelay/relay-service/pkg/modelclient"
	"github.com/textrelay/relay-service/pkg/rabbitmq"
	"github.com/textrelay/relay-service/pkg/smsclient"
)

func main() {
	// Load .env for local development; in deployment the environment is set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting relay-service\" port=%s message_cost_cents=%d", cfg.ServerPort, cfg.MessageCostCents)

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

	repository := store.NewPostgresRepository(dbpool)
	if err := repository.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema setup failed\" err=%v", err)
	}

	// Initialize the RabbitMQ producer to publish events. The relay keeps
	// working without a broker; events are simply not emitted.
	var producer rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; event publishing disabled\" env=RABBITMQ_URL")
	} else {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; event publishing disabled\" err=%v", err)
		} else {
			defer eventProducer.Close()
			producer = eventProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Initialize the external service clients.
	modelClient := modelclient.NewClient(cfg.ModelAPIBaseURL, cfg.ModelAPIKey, cfg.ModelName, time.Duration(cfg.ModelTimeoutSeconds)*time.Second)
	smsClient := smsclient.NewClient(cfg.SMSAPIBaseURL, cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFromNumber, cfg.VerifyServiceSID)
	checkoutClient := checkoutclient.NewClient(cfg.CheckoutAPIBaseURL, cfg.CheckoutAPIKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)

	// Initialize the core application service with its dependencies.
	relayService := app.NewService(
		repository,
		modelClient,
		smsClient,
		smsClient,
		checkoutClient,
		producer,
		cfg.MessageCostCents,
		cfg.MaxTopUpCents,
		cfg.FallbackReply,
	)

	// Optional per-sender inbound rate limiting backed by Redis.
	if cfg.InboundRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; inbound rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; inbound rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; inbound rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					relayService.SetInboundRateLimiter(
						app.NewRedisInboundRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
						cfg.InboundRateLimitPerMinute,
					)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Consume checkout completions republished by the processor's webhook
	// gateway. This is a second confirmation path; it shares the producer's
	// broker and is skipped when the broker is unavailable.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; broker confirmations disabled\" err=%v", err)
		} else {
			defer consumer.Close()
			paymentConsumer := app.NewPaymentEventConsumer(relayService)
			bindings := map[string]func([]byte) bool{
				"payment.checkout.completed": paymentConsumer.HandleMessage,
			}
			if err := consumer.ConsumeWithBindings("payment.events", "relay-service.payment-confirmations", bindings); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"broker confirmation binding failed\" err=%v", err)
			} else {
				log.Println("level=info component=bootstrap msg=\"rabbitmq consumer connected\"")
			}
		}
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, "relay-service", time.Duration(cfg.JWTTTLMinutes)*time.Minute)

	// Initialize the API handlers and set up the HTTP router.
	relayHandlers := api.NewRelayHandlers(relayService, tokens)
	router := api.RelayRoutes(relayHandlers, tokens)

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
