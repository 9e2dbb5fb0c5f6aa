package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/clients"
	"github.com/wrale/device-grant/cmd/device-grant/handlers/device"
	"github.com/wrale/device-grant/cmd/device-grant/handlers/health"
	"github.com/wrale/device-grant/cmd/device-grant/handlers/token"
	"github.com/wrale/device-grant/cmd/device-grant/handlers/verify"
	registry "github.com/wrale/device-grant/internal/clients"
	"github.com/wrale/device-grant/internal/csrf"
	"github.com/wrale/device-grant/internal/deviceflow"
	"github.com/wrale/device-grant/internal/identity"
	"github.com/wrale/device-grant/internal/metrics"
	"github.com/wrale/device-grant/internal/ratelimit"
)

type server struct {
	cfg      Config
	router   *chi.Mux
	flow     deviceflow.Service
	csrf     *csrf.Manager
	identity identity.Provider
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// newFlow builds the device flow over store with the configured policy and
// seeds callback URIs declared in the clients file
func newFlow(ctx context.Context, cfg Config, store deviceflow.Store, m *metrics.Metrics, log *slog.Logger) (*deviceflow.Flow, error) {
	opts := []deviceflow.Option{
		deviceflow.WithExpiryDuration(cfg.CodeExpiry),
		deviceflow.WithPollInterval(cfg.PollInterval),
		deviceflow.WithUserCodeLength(cfg.UserCodeLength),
		deviceflow.WithRecorder(m),
		deviceflow.WithLogger(log),
	}

	if cfg.ClientsFile == "" {
		opts = append(opts, deviceflow.WithClientRegistry(registry.AllowAll{}))
		return deviceflow.NewFlow(store, cfg.BaseURL, opts...), nil
	}

	// fail fast on a broken file; later edits are picked up by the source
	reg, err := registry.LoadFile(cfg.ClientsFile)
	if err != nil {
		return nil, err
	}
	log.Info("client registry loaded", "path", cfg.ClientsFile, "clients", len(reg.Clients()))
	opts = append(opts, deviceflow.WithClientRegistry(
		registry.NewCached(registry.NewFileSource(cfg.ClientsFile), cfg.ClientsCacheTTL)))

	flow := deviceflow.NewFlow(store, cfg.BaseURL, opts...)
	if _, err := reg.SeedCallbacks(ctx, flow, log); err != nil {
		return nil, err
	}
	return flow, nil
}

func newServer(cfg Config, flow deviceflow.Service, csrfManager *csrf.Manager, idp identity.Provider,
	limiter ratelimit.Limiter, m *metrics.Metrics, log *slog.Logger) *server {
	srv := &server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		flow:     flow,
		csrf:     csrfManager,
		identity: idp,
		limiter:  limiter,
		metrics:  m,
		logger:   log,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(30 * time.Second))
	srv.router.Use(m.Middleware)

	srv.routes()

	return srv
}

func (s *server) routes() {
	s.router.Method(http.MethodGet, "/health", health.New(s.flow).
		WithVersion(Version).
		WithCheck("csrf", s.csrf).
		WithCheck("identity", s.identity))

	s.router.Method(http.MethodPost, "/device/code", device.New(s.flow, s.logger))
	s.router.Method(http.MethodPost, "/device/token", token.New(token.Config{Flow: s.flow, Logger: s.logger}))

	v := verify.New(verify.Config{
		Flow:     s.flow,
		CSRF:     s.csrf,
		Identity: s.identity,
		Limiter:  s.limiter,
		Recorder: s.metrics,
		Logger:   s.logger,
		BaseURL:  s.cfg.BaseURL,
	})
	s.router.Get("/device", v.HandleForm)
	s.router.Post("/device/verify", v.HandleSubmit)
	s.router.Get("/device/complete", v.HandleComplete)

	if s.cfg.AdminAPIKey != "" {
		admin := clients.New(s.flow, s.logger)
		s.router.Route("/admin/clients/{clientID}", func(r chi.Router) {
			r.Use(clients.RequireAdminKey(s.cfg.AdminAPIKey, s.logger))
			r.Get("/callback", admin.HandleGet)
			r.Put("/callback", admin.HandlePut)
		})
	}
}

// newIdentity configures the Keycloak realm the verification pages sign in with
func newIdentity(cfg Config) (identity.Provider, error) {
	idp, err := identity.NewKeycloak(identity.Config{
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
		BaseURL:      cfg.KeycloakURL,
		Realm:        cfg.KeycloakRealm,
		RedirectURI:  strings.TrimSuffix(cfg.BaseURL, "/") + "/device/complete",
	})
	if err != nil {
		return nil, fmt.Errorf("configuring identity provider: %w", err)
	}
	return idp, nil
}

// checkHealth reports the first failing dependency
func (s *server) checkHealth(ctx context.Context) error {
	if err := s.flow.CheckHealth(ctx); err != nil {
		return err
	}
	return s.csrf.CheckHealth(ctx)
}
