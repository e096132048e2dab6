package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	jwtware "github.com/gofiber/jwt/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nishanpoudel/kinmel-backend/internal/cart"
	"github.com/nishanpoudel/kinmel-backend/internal/config"
	"github.com/nishanpoudel/kinmel-backend/internal/events"
	"github.com/nishanpoudel/kinmel-backend/internal/order"
	"github.com/nishanpoudel/kinmel-backend/internal/payment"
	"github.com/nishanpoudel/kinmel-backend/internal/product"
	"github.com/nishanpoudel/kinmel-backend/internal/redisx"
	"github.com/nishanpoudel/kinmel-backend/internal/user"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "api").Logger()

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db := mustOpenDB(cfg.DatabaseURL)
	defer db.Close()
	ensureSchema(db)

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(requestLogger)

	userService := user.NewService(user.NewPostgresRepository(db))
	userHandler := user.NewHandler(userService, cfg.JWTSecret)

	productService := product.NewService(product.NewPostgresRepository(db))
	productHandler := product.NewHandler(productService)

	khalti := payment.NewKhaltiClient(payment.KhaltiConfig{
		BaseURL:     cfg.KhaltiBaseURL,
		SecretKey:   cfg.KhaltiSecretKey,
		FrontendURL: cfg.FrontendURL,
		Timeout:     cfg.GatewayTimeout,
	})
	esewa := payment.NewEsewaClient(payment.EsewaConfig{
		BaseURL:      cfg.EsewaBaseURL,
		MerchantCode: cfg.EsewaMerchantCode,
		FrontendURL:  cfg.FrontendURL,
	})

	orderService := order.NewService(order.NewPostgresRepository(db), khalti, esewa)
	if cfg.RedisAddr != "" {
		orderService.WithCoordinator(redisx.NewCoordinator(redisx.New(cfg.RedisAddr)))
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(cfg.KafkaBrokers, 256)
		pub.Start(context.Background())
		orderService.WithEvents(pub, cfg.ServiceName)
	}
	orderHandler := order.NewHandler(orderService, userService, cfg.FrontendURL)

	cartService := cart.NewService(cart.NewPostgresRepository(db))
	cartHandler := cart.NewHandler(cartService, productService)

	// public surface first; routes registered before the JWT middleware
	// never hit it. The gateway callback must stay here.
	userHandler.RegisterPublicRoutes(app)
	productHandler.RegisterPublicRoutes(app)
	orderHandler.RegisterPublicRoutes(app)

	app.Use(jwtware.New(jwtware.Config{
		SigningKey: []byte(cfg.JWTSecret),
	}))

	userHandler.RegisterProtectedRoutes(app)
	orderHandler.RegisterProtectedRoutes(app)
	cartHandler.RegisterProtectedRoutes(app)
	productHandler.RegisterProtectedRoutes(app)

	log.Info().Str("addr", cfg.Addr).Msg("starting server")
	if err := app.Listen(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Info().
		Str("method", c.Method()).
		Str("path", c.OriginalURL()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("request")
	return err
}

func mustOpenDB(dbURL string) *sql.DB {
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	return db
}

func ensureSchema(db *sql.DB) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			"userId" SERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			name TEXT,
			phone TEXT,
			role TEXT NOT NULL DEFAULT 'customer',
			cart jsonb NOT NULL DEFAULT '{}',
			"createdAt" TEXT,
			"updatedAt" TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			"productId" SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			price numeric NOT NULL DEFAULT 0,
			image TEXT,
			category TEXT,
			"countInStock" INT NOT NULL DEFAULT 0,
			"createdAt" TEXT,
			"updatedAt" TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			"orderId" TEXT PRIMARY KEY,
			"userId" INT NOT NULL,
			"orderItems" jsonb NOT NULL DEFAULT '[]',
			"shippingAddress" jsonb NOT NULL DEFAULT '{}',
			"paymentMethod" TEXT NOT NULL,
			"paymentResult" jsonb,
			pidx TEXT UNIQUE,
			"itemsPrice" numeric NOT NULL DEFAULT 0,
			"taxPrice" numeric NOT NULL DEFAULT 0,
			"shippingPrice" numeric NOT NULL DEFAULT 0,
			"totalPrice" numeric NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			"isPaid" BOOLEAN NOT NULL DEFAULT FALSE,
			"paidAt" TIMESTAMPTZ,
			"isDelivered" BOOLEAN NOT NULL DEFAULT FALSE,
			"deliveredAt" TIMESTAMPTZ,
			version INT NOT NULL DEFAULT 0,
			"createdAt" TEXT,
			"updatedAt" TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS orders_user_idx ON orders ("userId")`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
	}
}
