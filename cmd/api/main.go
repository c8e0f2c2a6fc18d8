package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lumora.app/internal/auth"
	"lumora.app/internal/config"
	"lumora.app/internal/httpapi"
	"lumora.app/internal/obs"
	"lumora.app/internal/ratelimit"
	"lumora.app/internal/tokenvault"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Users and refresh tokens live in Postgres; the API cannot run
	// without it.
	if cfg.PGDSN == "" {
		log.Fatal("LUMORA_PG_DSN is required")
	}
	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Counter store: Redis when configured (shared across replicas),
	// in-process shards otherwise.
	var counters ratelimit.CounterStore = ratelimit.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		counters = rs
	}
	limiter := ratelimit.New(counters, ratelimit.WithFailMode(cfg.LimiterFailMode))
	resolver := ratelimit.NewResolver(cfg.RateOverrides)

	vault := tokenvault.New(tokenvault.NewPGStore(db),
		tokenvault.WithTTL(cfg.RefreshTTL),
		tokenvault.WithFailMode(cfg.VaultFailMode),
	)
	janitor := tokenvault.NewJanitor(vault, tokenvault.WithInterval(cfg.JanitorInterval))
	janitor.Start()

	authSvc, err := auth.NewService(auth.NewPGUserStore(db), vault, cfg.AuthSecret,
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, authSvc, resolver, limiter,
		httpapi.WithBackstop(cfg.BackstopBurst, cfg.BackstopPerSecond))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting lumora-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	janitor.Stop()
	_ = db.Close()
	log.Println("Stopped")
}
