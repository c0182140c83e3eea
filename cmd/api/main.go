package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"workplan/api/internal/app"
	"workplan/api/internal/authpw"
	"workplan/api/internal/config"
	"workplan/api/internal/session"
	"workplan/api/internal/sheets"
	"workplan/api/internal/snapshot"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var gateway sheets.Gateway
	if strings.TrimSpace(cfg.SheetsCredentials) != "" && strings.TrimSpace(cfg.SpreadsheetID) != "" {
		googleGateway, err := sheets.NewGoogleSheets(ctx, []byte(cfg.SheetsCredentials), cfg.SpreadsheetID, cfg.DataWorksheet, cfg.AuditWorksheet)
		if err != nil {
			log.Fatalf("sheets client failed: %v", err)
		}
		gateway = googleGateway
	} else {
		log.Printf("No spreadsheet configured, using in-memory table")
		gateway = sheets.NewMemoryGateway()
	}

	admin := authpw.New(cfg.AdminPassword, cfg.AdminPasswordHash)
	if !admin.Configured() {
		log.Printf("WARNING: no admin password configured, admin login disabled")
	}

	var service *app.Service
	var store app.SessionStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		log.Printf("Using in-memory refresh token storage")
		store = session.NewMemoryStore()
	}

	if strings.TrimSpace(cfg.SnapshotEndpoint) != "" {
		snaps, err := snapshot.New(cfg.SnapshotEndpoint, cfg.SnapshotAccessKey, cfg.SnapshotSecretKey, cfg.SnapshotBucket, cfg.SnapshotUseSSL)
		if err != nil {
			log.Fatalf("snapshot storage failed: %v", err)
		}
		if err := snaps.EnsureBucket(ctx); err != nil {
			log.Fatalf("snapshot bucket failed: %v", err)
		}
		service = app.NewWithSnapshots(cfg, gateway, store, admin, snaps)
	} else {
		service = app.New(cfg, gateway, store, admin)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Work plan API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
