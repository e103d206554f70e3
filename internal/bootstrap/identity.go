package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/target/portal-identity/config"
	"github.com/target/portal-identity/internal/adapters/httpidentity"
	"github.com/target/portal-identity/internal/adapters/redistoken"
	"github.com/target/portal-identity/internal/data"
	"github.com/target/portal-identity/internal/observability/statsd"
	"github.com/target/portal-identity/internal/ports"
	"github.com/target/portal-identity/internal/service"
	"github.com/target/portal-identity/internal/state"
)

// IdentityCoreOptions contains the dependencies for BuildIdentityCore.
type IdentityCoreOptions struct {
	Config config.AppConfig
	DB     *sql.DB
	Redis  redis.UniversalClient
	Logger *slog.Logger
}

// IdentityCore bundles the wired identity components.
type IdentityCore struct {
	Client     *httpidentity.Client
	Store      *state.Store
	Controller *service.SessionController
	Identity   *service.IdentityService
	Derived    *service.DerivedDataService
	Metrics    *statsd.Client

	logger *slog.Logger
}

// BuildIdentityCore wires the identity client, record repositories, state
// store, and lifecycle controller from configuration.
func BuildIdentityCore(opts IdentityCoreOptions) (*IdentityCore, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// One key per agent instance unless configuration pins it; a pinned key
	// lets the session survive restarts.
	instanceKey := cfg.Identity.SessionCacheKey
	if instanceKey == "" {
		instanceKey = uuid.NewString()
	}

	metrics, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Observability.Metrics.StatsdPrefix,
		Logger:  opts.Logger,
		GlobalTags: map[string]string{
			"agent": instanceKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	var tokenCache ports.TokenCache
	if opts.Redis != nil {
		cache, cerr := redistoken.NewCache(opts.Redis, instanceKey, cfg.Identity.SessionCacheTTL)
		if cerr != nil {
			return nil, fmt.Errorf("init session cache: %w", cerr)
		}
		tokenCache = cache
	}

	client, err := httpidentity.NewClient(httpidentity.Options{
		BaseURL:       cfg.Identity.BaseURL,
		APIKey:        cfg.Identity.APIKey,
		ClientID:      cfg.Identity.ClientID,
		RefreshMargin: cfg.Identity.RefreshMargin,
		Cache:         tokenCache,
		Logger:        opts.Logger,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init identity client: %w", err)
	}

	profiles := data.NewProfileRepo(opts.DB)
	roles := data.NewRoleRepo(opts.DB)
	institutions := data.NewInstitutionRepo(opts.DB)

	store := state.NewStore()

	derived, err := service.NewDerivedDataService(service.DerivedDataServiceOptions{
		Profiles:     profiles,
		Roles:        roles,
		Institutions: institutions,
		Logger:       opts.Logger,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init derived data service: %w", err)
	}

	controller, err := service.NewSessionController(service.SessionControllerOptions{
		Channel:   client,
		Derived:   derived,
		Store:     store,
		Logger:    opts.Logger,
		Metrics:   metrics,
		QueueSize: cfg.Identity.FetchQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init session controller: %w", err)
	}

	identity, err := service.NewIdentityService(service.IdentityServiceOptions{
		API:          client,
		Profiles:     profiles,
		Roles:        roles,
		Institutions: institutions,
		Derived:      derived,
		Store:        store,
		Logger:       opts.Logger,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init identity service: %w", err)
	}

	return &IdentityCore{
		Client:     client,
		Store:      store,
		Controller: controller,
		Identity:   identity,
		Derived:    derived,
		Metrics:    metrics,
		logger:     logger,
	}, nil
}

// Start restores any cached session and begins lifecycle reconciliation.
func (c *IdentityCore) Start(ctx context.Context) error {
	if err := c.Client.Start(ctx); err != nil {
		return fmt.Errorf("start identity client: %w", err)
	}
	c.Controller.Start(ctx)
	return nil
}

// Stop shuts the controller and client down in dependency order.
func (c *IdentityCore) Stop() {
	c.Controller.Stop()
	c.Client.Close()
	if err := c.Metrics.Close(); err != nil {
		c.logger.Warn("close metrics client failed", "error", err)
	}
}
