package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/philipodonnell/paperbroker/internal/account"
	"github.com/philipodonnell/paperbroker/internal/broker"
	"github.com/philipodonnell/paperbroker/internal/quote"
	"github.com/philipodonnell/paperbroker/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Account store ---
	var accounts account.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		accounts = account.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			accounts = account.NewCachedStore(accounts, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		accounts = account.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote source ---
	dataPath := os.Getenv("QUOTE_DATA")
	if dataPath == "" {
		slog.Error("QUOTE_DATA must point to a quote CSV file")
		os.Exit(1)
	}
	currentDate := time.Now().UTC()
	if qd := os.Getenv("QUOTE_DATE"); qd != "" {
		parsed, err := time.Parse("2006-01-02", qd)
		if err != nil {
			slog.Error("invalid QUOTE_DATE, expected YYYY-MM-DD", "err", err)
			os.Exit(1)
		}
		currentDate = parsed
	}
	static, err := quote.LoadCSVFile(dataPath, currentDate)
	if err != nil {
		slog.Error("loading quote data failed", "err", err)
		os.Exit(1)
	}
	quotes := quote.NewCache(static)
	slog.Info("quote data loaded", "path", dataPath, "date", currentDate.Format("2006-01-02"))

	// --- Broker ---
	cfg := broker.Config{}
	if sc := os.Getenv("STARTING_CASH"); sc != "" {
		cash, err := decimal.NewFromString(sc)
		if err != nil || !cash.IsPositive() {
			slog.Error("invalid STARTING_CASH", "value", sc)
			os.Exit(1)
		}
		cfg.StartingCash = cash
	}
	b := broker.New(quotes, accounts, cfg)

	// --- WebSocket hub + HTTP service ---
	wsHub := server.NewWSHub()
	go wsHub.Run()

	svc := server.NewService(b, wsHub)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      svc.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paperbroker listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paperbroker...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paperbroker stopped")
}
