package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prizedraw/internal/config"
	"prizedraw/internal/draw"
	"prizedraw/internal/handlers"
	"prizedraw/internal/realtime"
	"prizedraw/internal/services"
	"prizedraw/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yml if present)")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	defer logger.Init("prizedraw", cfg.Log.Verbose, false, io.Discard).Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store
	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.Store.DSN, store.PostgresOptions{MaxOpenConns: cfg.Store.MaxOpenConns})
		if err != nil {
			logger.Fatalf("Failed to open postgres: %v", err)
		}
		defer pg.Close()
		st = pg
	default:
		st = store.NewMemory()
	}

	// 3. Set up the draw engine, with a shared lock when redis is configured
	policy, err := cfg.Draw.Policy()
	if err != nil {
		logger.Fatalf("Invalid draw policy: %v", err)
	}
	opts := []draw.Option{draw.WithPolicy(policy)}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to reach redis at %s: %v", cfg.Redis.Addr, err)
		}
		defer rdb.Close()
		opts = append(opts, draw.WithLocker(draw.NewRedisLocker(rdb, cfg.Redis.LockTTL)))
		logger.Infof("Using redis prize locks at %s", cfg.Redis.Addr)
	}
	engine := draw.NewEngine(st, opts...)

	// 4. Initialize the Lottery Service and the realtime hub
	hub := realtime.NewHub(cfg.Server.AllowOrigins)
	defer hub.Close()
	lotteryService := services.NewLotteryService(st, engine, hub)

	// 5. Set up the Gin router
	router := handlers.NewRouter(handlers.NewHTTPHandler(lotteryService, hub), cfg.Server.AllowOrigins)

	// 6. Start the background janitor to clean up inactive sessions
	if cfg.Store.Driver == "memory" {
		go func() {
			ticker := time.NewTicker(cfg.Session.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n := lotteryService.CleanUpInactiveSessions(cfg.Session.IdleTimeout)
					logger.Infof("Performed cleanup of inactive sessions, %d removed.", n)
				}
			}
		}()
	}

	// 7. Run the server
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown: %v", err)
		}
	}()

	logger.Infof("Server starting on %s (store=%s, repeat_wins=%s)", cfg.Server.Addr, cfg.Store.Driver, policy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Failed to run server: %v", err)
	}
}
