package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskgrid.org/internal/auth"
	"taskgrid.org/internal/httpapi"
	"taskgrid.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()

	var (
		store auth.Store
		pg    *auth.PGStore
	)
	if dsn := os.Getenv("TASKGRID_PG_DSN"); dsn != "" {
		var err error
		pg, err = auth.OpenPG(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pg
	} else {
		log.Printf("TASKGRID_PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	secret := os.Getenv("TASKGRID_AUTH_SECRET")
	if secret == "" {
		log.Fatal("TASKGRID_AUTH_SECRET is required")
	}

	svc, err := auth.NewService(store, auth.WithTokenSecret(secret))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	if err := svc.EnsurePermissions(ctx); err != nil {
		log.Printf("seed permissions: %v", err)
	}
	table, err := svc.PermissionTable(ctx)
	if err != nil {
		log.Fatalf("load permission table: %v", err)
	}
	engine := auth.NewEngine(table)

	probe := httpapi.ReadyProbe{}
	if pg != nil {
		probe.DB = pg.DB()
	}
	api := httpapi.New(probe, version, svc, engine, nil)

	addr := os.Getenv("TASKGRID_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting taskgrid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if pg != nil {
		_ = pg.Close()
	}
	log.Println("Stopped")
}
