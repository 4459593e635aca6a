package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"calshare/internal/config"
	"calshare/internal/eventstore"
	"calshare/internal/google"
	"calshare/internal/icloud"
	"calshare/internal/invitation"
	"calshare/internal/local"
	"calshare/internal/messaging"
	"calshare/internal/models"
	"calshare/internal/offline"
	"calshare/internal/remote"
	"calshare/internal/sharing"
	"calshare/internal/syncer"

	"github.com/urfave/cli/v2"
)

// deps holds every wired component for one command invocation.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	sess    models.Session
	local   local.Provider
	store   remote.Store
	cache   *offline.Cache
	router  *invitation.Router
	events  *eventstore.Store
	sharing *sharing.Registry
}

func wire(c *cli.Context) (*deps, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user_id is not configured; set it in %s or CALSHARE_USER_ID", c.String("config"))
	}

	provider, err := newProvider(c.Context, logger, cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(c.Context, cfg)
	if err != nil {
		return nil, err
	}
	gateway, err := newGateway(logger, cfg)
	if err != nil {
		return nil, err
	}
	cache, err := offline.New(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	d := &deps{
		cfg:    cfg,
		logger: logger,
		sess:   session(cfg),
		local:  provider,
		store:  store,
		cache:  cache,
	}
	d.router = invitation.NewRouter(logger, store, nil)
	d.events = eventstore.New(logger, provider, store, d.router, cache, nil)
	d.sharing = sharing.NewRegistry(logger, store, gateway, provider, nil, sharing.Options{
		MaxAttempts: cfg.Sharing.MaxAttempts,
		RetryDelay:  cfg.Sharing.RetryDelay,
		Concurrency: cfg.Sharing.Concurrency,
	})
	return d, nil
}

func (d *deps) close() {
	if err := d.store.Close(context.Background()); err != nil {
		d.logger.Warn("Failed to close remote store.", "error", err)
	}
}

func (d *deps) syncer(dryRun bool) (*syncer.Syncer, error) {
	ties, err := syncer.ParseTiePolicy(d.cfg.Sync.TiePolicy)
	if err != nil {
		return nil, err
	}
	return syncer.NewSyncer(d.logger, d.local, d.store, syncer.Options{
		Cache:   d.cache,
		Inviter: d.router,
		DryRun:  dryRun,
		Ties:    ties,
	}), nil
}

func newProvider(ctx context.Context, logger *slog.Logger, cfg *config.Config) (local.Provider, error) {
	var p local.Provider
	switch cfg.Local.Provider {
	case config.ProviderCalDAV:
		cd := cfg.Local.CalDAV
		client, err := icloud.NewClient(logger, cd.Endpoint, cd.Username, cd.Password, cd.PrimaryCalendar)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		p = client
	case config.ProviderGoogle:
		g := cfg.Local.Google
		client, err := google.NewClient(ctx, logger, g.ClientID, g.ClientSecret, g.Account, g.CalendarIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", g.Account, err)
		}
		p = client
	case config.ProviderMemory:
		logger.Warn("Using an in-memory device calendar; nothing is kept after exit.")
		p = local.NewMemory(nil)
	default:
		return nil, fmt.Errorf("unknown local provider %q", cfg.Local.Provider)
	}
	return local.WithTimeout(p, cfg.Timeout), nil
}

func newStore(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	var s remote.Store
	switch cfg.Remote.Backend {
	case config.BackendMongo:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		m, err := remote.DialMongo(dialCtx, cfg.Remote.MongoURI, cfg.Remote.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to remote store: %w", err)
		}
		s = m
	case config.BackendMemory:
		s = remote.NewMemory()
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
	return remote.WithTimeout(s, cfg.Timeout), nil
}

func newGateway(logger *slog.Logger, cfg *config.Config) (messaging.Gateway, error) {
	if cfg.Messaging.Gateway == config.GatewayTwilio {
		tw := cfg.Messaging.Twilio
		return messaging.NewTwilio(logger, tw.AccountSID, tw.AuthToken, tw.From)
	}
	return messaging.LogGateway{Logger: logger}, nil
}

func session(cfg *config.Config) models.Session {
	host, _ := os.Hostname()
	return models.Session{
		UserID:      cfg.UserID,
		DisplayName: cfg.DisplayName,
		DeviceInfo: map[string]string{
			"hostname": host,
			"os":       runtime.GOOS,
			"provider": cfg.Local.Provider,
		},
	}
}
