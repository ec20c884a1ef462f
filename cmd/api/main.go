package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idport.org/internal/config"
	"idport.org/internal/httpapi"
	"idport.org/internal/identity"
	"idport.org/internal/notify"
	"idport.org/internal/obs"
	"idport.org/internal/store/memory"
	"idport.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SessionSecret == "" {
		log.Fatal("IDPORT_SESSION_SECRET is required")
	}

	// Postgres when a DSN is configured, in-memory store otherwise.
	var (
		store   identity.Store
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.PostgresDSN != "" {
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("no IDPORT_PG_DSN set, using in-memory store")
		store = memory.New()
	}

	hasher := identity.NewHasher(identity.HasherParams{
		MemoryKiB:         uint32(cfg.HashMemoryKiB),
		Iterations:        uint32(cfg.HashIterations),
		Parallelism:       uint8(cfg.HashParallelism),
		MaxPasswordLength: cfg.MaxPasswordLength,
	})

	issuer, err := identity.NewTokenIssuer(store, identity.WithTokenBytes(cfg.TokenBytes))
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	svc, err := identity.NewService(store,
		identity.WithHasher(hasher),
		identity.WithTokenIssuer(issuer),
		identity.WithNotifier(notify.NewLogNotifier()),
		identity.WithVerificationTTL(cfg.VerificationTTL),
		identity.WithResetTTL(cfg.ResetTTL),
	)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureRoles(ctx); err != nil {
		cancel()
		log.Fatalf("ensure roles: %v", err)
	}
	cancel()

	sessions, err := identity.NewSessions([]byte(cfg.SessionSecret), "idport",
		identity.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}

	api := httpapi.New(svc, sessions, probe, version)

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.CORS(
				httpapi.MaxBodyBytes(
					httpapi.RateLimit(api.Handler(), cfg.RateLimitBurst, cfg.RateLimitRPS),
					1<<20,
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting idport-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
