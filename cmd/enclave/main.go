// Command enclave runs the key-custody service (spec §2 "Enclave
// service"): an HTTP surface reachable only by the API process, holding
// private keys in process memory and performing Schnorr/ECDSA signatures
// over attested, single-use tickets. Grounded on the teacher's
// cmd/coordinator/main.go startup/shutdown shape.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keyvault-labs/custodian/internal/config"
	"github.com/keyvault-labs/custodian/internal/enclavesrv"
	"github.com/keyvault-labs/custodian/internal/logging"
	"github.com/keyvault-labs/custodian/internal/sealing"
	"github.com/keyvault-labs/custodian/internal/ticket"
)

func main() {
	logger := logging.New("enclave")
	cfg := config.LoadEnclaveConfig()

	if cfg.InternalAPIKey == "" {
		logger.Fatal("INTERNAL_API_KEY is required")
	}
	if cfg.TicketSigningSecret == "" {
		logger.Fatal("TICKET_SIGNING_SECRET is required")
	}

	sealer, err := buildSealer(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to build sealer")
	}

	keys := enclavesrv.NewKeyStore()
	nonces := enclavesrv.NewNonceLedger()
	signer := &enclavesrv.Signer{
		Keys:   keys,
		Nonces: nonces,
		Tickets: &ticket.Issuer{
			Secret: cfg.TicketSigningSecret,
		},
	}

	srv := &enclavesrv.Server{
		Keys:           keys,
		Nonces:         nonces,
		Signer:         signer,
		Sealer:         sealer,
		InternalAPIKey: cfg.InternalAPIKey,
		Log:            logger,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("enclave listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("enclave server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("enclave shutdown error")
	}
}

// buildSealer picks AWS KMS when KMS_KEY_ARN is configured, falling back to
// the local AES-256-GCM sealer under SEALING_KEY for development and tests
// (spec §6 "SEALING_KEY (dev AES fallback)").
func buildSealer(cfg config.EnclaveConfig) (sealing.Sealer, error) {
	if cfg.KMSKeyARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		return &sealing.KMSSealer{
			Client: kms.NewFromConfig(awsCfg),
			KeyARN: cfg.KMSKeyARN,
		}, nil
	}

	key, err := hex.DecodeString(cfg.SealingKey)
	if err != nil || len(key) != 32 {
		return nil, errors.New("SEALING_KEY must be 64 hex characters (32 bytes) when KMS_KEY_ARN is not set")
	}
	return sealing.NewAESSealer(key)
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
