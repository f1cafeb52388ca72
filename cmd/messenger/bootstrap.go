package main

import (
	"context"
	"fmt"

	"github.com/mbeoliero/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mbeoliero/ecommunity/internal/config"
	"github.com/mbeoliero/ecommunity/internal/metrics"
	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/internal/repository"
	"github.com/mbeoliero/ecommunity/internal/service"
	"github.com/mbeoliero/ecommunity/pkg/identity"
	"github.com/mbeoliero/ecommunity/pkg/jwt"
	"github.com/mbeoliero/ecommunity/sdk"
)

// deps is every long-lived dependency of a session
type deps struct {
	cfg      *config.Config
	self     *identity.Identity
	rt       *realtime.Client
	repos    *repository.Repositories
	registry *prometheus.Registry
	session  *service.Session
}

// bootstrap loads config and wires the session; the realtime connection is opened
func bootstrap(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.CtxInfo(ctx, "config loaded: mode=%s", cfg.Server.Mode)

	self, err := resolveIdentity(cfg)
	if err != nil {
		return nil, err
	}

	api, err := sdk.NewClient(cfg.API.BaseURL,
		sdk.WithToken(cfg.API.AccessToken),
		sdk.WithAPIKey(cfg.API.APIKey),
		sdk.WithRole(self.Role),
		sdk.WithTimeouts(cfg.API.DialTimeout, cfg.API.ReadTimeout, cfg.API.WriteTimeout),
	)
	if err != nil {
		return nil, err
	}

	storage, err := sdk.NewStorageClient(cfg.Storage.URL, cfg.Storage.Bucket,
		sdk.WithToken(cfg.API.AccessToken),
		sdk.WithAPIKey(cfg.API.APIKey),
		sdk.WithTimeouts(cfg.API.DialTimeout, cfg.API.ReadTimeout, cfg.API.WriteTimeout),
	)
	if err != nil {
		return nil, err
	}

	rt, err := realtime.NewClient(realtime.Options{
		URL:               cfg.Realtime.URL,
		APIKey:            cfg.API.APIKey,
		AccessToken:       cfg.API.AccessToken,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		JoinTimeout:       cfg.Realtime.JoinTimeout,
		WriteWait:         cfg.Realtime.WriteWait,
		MaxMessageSize:    cfg.Realtime.MaxMessageSize,
		EventBufferSize:   cfg.Realtime.EventBufferSize,
		WriteChannelSize:  cfg.Realtime.WriteChannelSize,
	})
	if err != nil {
		return nil, err
	}
	if err := rt.Connect(ctx); err != nil {
		return nil, fmt.Errorf("realtime connect failed: %w", err)
	}
	log.CtxInfo(ctx, "realtime connected: endpoint=%s", rt.Endpoint())

	repos, err := repository.NewRepositories(ctx, cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := service.OptionsFromConfig(cfg, self)
	opts.InstanceId = rt.InstanceId()
	opts.Metrics = metrics.NewRecorder(registry)
	if repos.URLCache != nil {
		opts.URLCache = repos.URLCache
	}

	session, err := service.NewSession(api, rt, storage, opts)
	if err != nil {
		_ = repos.Close()
		_ = rt.Close()
		return nil, err
	}

	return &deps{
		cfg:      cfg,
		self:     self,
		rt:       rt,
		repos:    repos,
		registry: registry,
		session:  session,
	}, nil
}

// resolveIdentity reads the session identity from the configured access token
func resolveIdentity(cfg *config.Config) (*identity.Identity, error) {
	defaultRole, err := identity.ParseRole(cfg.Identity.DefaultRole)
	if err != nil {
		return nil, err
	}

	claims, err := jwt.ParseAccessToken(cfg.API.AccessToken, cfg.Identity.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("access token rejected: %w", err)
	}
	return claims.ToIdentity(defaultRole)
}

func (r *deps) close(ctx context.Context) {
	r.session.Close(ctx)
	if err := r.rt.Close(); err != nil {
		log.CtxWarn(ctx, "realtime close failed: %v", err)
	}
	if err := r.repos.Close(); err != nil {
		log.CtxWarn(ctx, "repositories close failed: %v", err)
	}
}
