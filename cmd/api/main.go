// Command api runs the client-facing signing API service (spec §2 "API
// service"): challenge/session issuance, identity lifecycle, sign-intent/
// sign/sign-batch, audit listing, all backed by an in-memory or file-backed
// store and a remote enclave over the internal HTTP channel. Grounded on the
// teacher's cmd/coordinator/main.go: flag-and-env config, an http.Server
// with explicit timeouts, and signal-driven graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keyvault-labs/custodian/internal/app"
	"github.com/keyvault-labs/custodian/internal/config"
	"github.com/keyvault-labs/custodian/internal/enclaveclient"
	"github.com/keyvault-labs/custodian/internal/httpapi"
	"github.com/keyvault-labs/custodian/internal/logging"
	"github.com/keyvault-labs/custodian/internal/store"
	"github.com/keyvault-labs/custodian/internal/store/backupfile"
	"github.com/keyvault-labs/custodian/internal/store/memory"
)

const purgeInterval = time.Minute

func main() {
	logger := logging.New("api")
	cfg := config.LoadAPIConfig()

	if cfg.SessionSigningSecret == "" || cfg.TicketSigningSecret == "" {
		logger.Fatal("SESSION_SIGNING_SECRET and TICKET_SIGNING_SECRET are required")
	}

	baseStore := memory.New()
	var st store.Store = baseStore
	if cfg.BackupFilePath != "" {
		backups, err := backupfile.Open(cfg.BackupFilePath, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to open backup file")
		}
		st = store.WithBackups(baseStore, backups)
	}

	enclave, err := enclaveclient.New(enclaveclient.Config{
		BaseURL:        cfg.EnclaveBaseURL,
		InternalAPIKey: cfg.InternalAPIKey,
		HTTPClient:     &http.Client{Timeout: 10*time.Second + cfg.OutboundHeadroom},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to build enclave client")
	}

	application := app.New(cfg, app.Deps{Store: st, Log: logger, Enclave: enclave})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application.StartBackgroundPurge(ctx, purgeInterval)
	defer application.Stop()

	srv := &httpapi.Server{App: application, Log: logger}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("api server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api shutdown error")
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
