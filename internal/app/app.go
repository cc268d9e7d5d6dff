// Package app wires the dispatch engine's components from configuration.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mailpilot/mailpilot/internal/attachment"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/credential"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/dispatch"
	"github.com/mailpilot/mailpilot/internal/email"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/message"
	"github.com/mailpilot/mailpilot/internal/quota"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/secret"
	"github.com/mailpilot/mailpilot/internal/service"
)

// App holds the connected components shared by the server and the CLI
type App struct {
	Cfg *config.Config
	Log *logger.Logger

	DB    *database.Postgres
	Redis *database.Redis

	Campaigns   *repository.CampaignRepository
	Recipients  *repository.RecipientRepository
	Ledger      *repository.LedgerRepository
	Credentials *repository.CredentialRepository

	Quota       quota.Governor
	Manager     *credential.Manager
	Dispatcher  *dispatch.Dispatcher
	Registry    *dispatch.Registry
	DispatchSvc *service.DispatchService
}

// New connects to the configured stores and builds every component
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	log.Info().Msg("connected to PostgreSQL")

	if cfg.Quota.Backend == "redis" || cfg.Security.RateLimiting.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = rdb
		log.Info().Msg("connected to Redis")
	}

	var sealer repository.TokenSealer
	key, err := cfg.Credential.Key()
	if err != nil {
		a.Close()
		return nil, err
	}
	if key != nil {
		box, err := secret.NewBox(key)
		if err != nil {
			a.Close()
			return nil, err
		}
		sealer = box
	} else {
		log.Warn().Msg("credential encryption key not set, tokens are stored unencrypted")
	}

	a.Campaigns = repository.NewCampaignRepository(db)
	a.Recipients = repository.NewRecipientRepository(db)
	a.Ledger = repository.NewLedgerRepository(db)
	a.Credentials = repository.NewCredentialRepository(db, sealer)

	switch cfg.Quota.Backend {
	case "redis":
		a.Quota = quota.NewRedisGovernor(a.Redis, cfg.Quota.DailyLimit)
	default:
		a.Quota = quota.NewMemoryGovernor(cfg.Quota.DailyLimit)
	}

	reader, err := attachment.New(cfg.Attachments)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to set up attachment storage: %w", err)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	a.Manager = credential.NewManager(
		a.Credentials,
		credential.NewGoogleRefresher(cfg.Google, httpClient),
		log,
		credential.WithSafetyMargin(cfg.Credential.SafetyMargin),
		credential.WithHTTPClient(httpClient),
	)

	a.Dispatcher = dispatch.NewDispatcher(dispatch.Deps{
		Campaigns:   a.Campaigns,
		Recipients:  a.Recipients,
		Ledger:      a.Ledger,
		Credentials: a.Manager,
		Composer:    message.NewComposer(reader, log),
		Sender:      email.NewGmailSender(cfg.Google.APIEndpoint),
		Quota:       a.Quota,
	}, cfg.Dispatch, log)

	var locker dispatch.Locker
	if a.Redis != nil {
		locker = a.Redis
	}
	a.Registry = dispatch.NewRegistry(a.Dispatcher, locker, cfg.Dispatch.LockTTL, log)

	a.DispatchSvc = service.NewDispatchService(a.Campaigns, a.Ledger, a.Registry, a.Quota, a.Manager, log)

	return a, nil
}

// Close releases database connections
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
