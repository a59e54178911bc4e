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

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/mem"
	"gatehouse.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Store: PostgreSQL when a DSN is set, in-memory otherwise. The memory
	// store is for local runs only.
	var (
		store access.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("GATEHOUSE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
		defer pgStore.Close()
	} else {
		log.Println("GATEHOUSE_PG_DSN not set, using in-memory store")
		store = mem.New()
	}

	opts := []access.Option{}
	if amqpURL := os.Getenv("GATEHOUSE_AMQP_URL"); amqpURL != "" {
		sender, err := notify.NewAMQPSender(amqpURL,
			envOr("GATEHOUSE_AMQP_EXCHANGE", "gatehouse"),
			envOr("GATEHOUSE_AMQP_QUEUE", "gatehouse.invites"),
			envOr("GATEHOUSE_AMQP_ROUTING_KEY", "invite"))
		if err != nil {
			log.Fatalf("connect amqp: %v", err)
		}
		defer sender.Close()
		opts = append(opts, access.WithNotifier(sender))
	} else {
		opts = append(opts, access.WithNotifier(notify.LogSender{}))
	}

	svc, err := access.NewService(store, access.DefaultConfig(), opts...)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	// Scheduled retention routines.
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go runEvery(retentionCtx, 10*time.Minute, "impersonation_expiry", svc.ExpireImpersonationSessions)
	go runEvery(retentionCtx, time.Hour, "user_purge", svc.PurgeDeletedUsers)
	go runEvery(retentionCtx, time.Hour, "org_purge", svc.PurgeDeletedOrgs)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version)
	handler := httpapi.RequestID(httpapi.Logging(httpapi.SecurityHeaders(api.Handler())))

	srv := &http.Server{
		Addr:              envOr("GATEHOUSE_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatehouse %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopRetention()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// runEvery invokes fn on a fixed interval until ctx is canceled. One run
// happens immediately so a freshly started process catches up on overdue
// work without waiting a full period.
func runEvery(ctx context.Context, interval time.Duration, name string, fn func(context.Context) (int64, error)) {
	run := func() {
		n, err := fn(ctx)
		if err != nil {
			obs.Event("retention_failed", map[string]any{
				"routine": name,
				"error":   err.Error(),
			})
			return
		}
		if n > 0 {
			obs.Event("retention_done", map[string]any{
				"routine": name,
				"rows":    n,
			})
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
