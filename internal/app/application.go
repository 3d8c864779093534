// Package app wires the API service's dependencies together, grounded on
// the teacher's internal/app/application.go Stores/Application composition
// pattern, collapsed from its many domain services down to the handful this
// service needs: store, rate limiter, audit, session/ticket issuers, the
// challenge machine, and the enclave client.
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keyvault-labs/custodian/internal/audit"
	"github.com/keyvault-labs/custodian/internal/challenge"
	"github.com/keyvault-labs/custodian/internal/config"
	"github.com/keyvault-labs/custodian/internal/enclaveclient"
	"github.com/keyvault-labs/custodian/internal/identity"
	"github.com/keyvault-labs/custodian/internal/ratelimit"
	"github.com/keyvault-labs/custodian/internal/session"
	"github.com/keyvault-labs/custodian/internal/store"
	"github.com/keyvault-labs/custodian/internal/ticket"
)

// Application ties the API service's dependencies together.
type Application struct {
	Config    config.APIConfig
	Store     store.Store
	RateLimit *ratelimit.Limiter
	Audit     *audit.Recorder
	Sessions  *session.Issuer
	Tickets   *ticket.Issuer
	Challenge *challenge.Machine
	Enclave   *enclaveclient.Restorer
	Identity  *identity.Service
	Log       *logrus.Logger

	stopPurge chan struct{}
}

// Deps carries the already-constructed collaborators an Application
// composes; Store and Log are required. Enclave is optional: when it is nil
// the Application's Enclave and Identity fields stay nil.
type Deps struct {
	Store   store.Store
	Log     *logrus.Logger
	Enclave *enclaveclient.Client
}

// New builds an Application from cfg and deps.
func New(cfg config.APIConfig, deps Deps) *Application {
	auditRecorder := &audit.Recorder{Store: deps.Store.Audit()}
	sessions := &session.Issuer{Secret: cfg.SessionSigningSecret, TTL: cfg.SessionTTL}
	tickets := &ticket.Issuer{Secret: cfg.TicketSigningSecret, TTL: cfg.TicketTTL}

	machine := &challenge.Machine{
		Store:         deps.Store,
		Sessions:      sessions,
		ChallengeTTL:  cfg.ChallengeTTL,
		BotConfigured: cfg.InternalAPIKey != "",
	}

	var restorer *enclaveclient.Restorer
	var identitySvc *identity.Service
	if deps.Enclave != nil {
		restorer = &enclaveclient.Restorer{Enclave: deps.Enclave, Backups: deps.Store.Backups()}
		identitySvc = &identity.Service{
			Store:   deps.Store,
			Enclave: restorer,
			Tickets: tickets,
			Audit:   auditRecorder,
		}
	}

	return &Application{
		Config:    cfg,
		Store:     deps.Store,
		RateLimit: ratelimit.New(),
		Audit:     auditRecorder,
		Sessions:  sessions,
		Tickets:   tickets,
		Challenge: machine,
		Enclave:   restorer,
		Identity:  identitySvc,
		Log:       deps.Log,
	}
}

// StartBackgroundPurge periodically purges expired challenges, grounded on
// the teacher's lifecycle-managed background services, collapsed to a
// single ticker loop since this service has exactly one such job.
func (a *Application) StartBackgroundPurge(ctx context.Context, interval time.Duration) {
	a.stopPurge = make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := a.Store.Challenges().PurgeExpired(ctx); err != nil {
					a.Log.WithError(err).Warn("failed to purge expired challenges")
				} else if n > 0 {
					a.Log.WithField("purged", n).Debug("purged expired challenges")
				}
			case <-a.stopPurge:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background purge loop, if running.
func (a *Application) Stop() {
	if a.stopPurge != nil {
		close(a.stopPurge)
	}
}
