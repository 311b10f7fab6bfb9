package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/config"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/mahoodle"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/secrets"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/store"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/webservice"
)

// app is everything both the server and the one-shot commands need.
type app struct {
	logger     *slog.Logger
	cfg        config.Config
	cfgMap     config.ConfigMap
	db         *sqlx.DB
	settings   *store.SettingsRepository
	httpClient *http.Client
	registry   *prometheus.Registry
	forwarder  *mahoodle.Forwarder

	closers []func() error
}

func configPath() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}

func newApp(ctx context.Context, logger *slog.Logger, path string) (*app, error) {
	cfg, cfgMap, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings, err := mahoodle.LoadSettings(cfgMap[mahoodle.ModuleName])
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	a := &app{
		logger:     logger,
		cfg:        cfg,
		cfgMap:     cfgMap,
		db:         db,
		settings:   store.NewSettingsRepository(db, cfg.TablePrefix),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		registry:   prometheus.NewRegistry(),
		closers:    []func() error{db.Close},
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Stored plugin config wins, then the static config value, then Secret Manager.
	tokens := secrets.Chain{a.settings, secrets.Static(settings.WebserviceToken)}
	if settings.TokenSecret != "" {
		gsm, err := secrets.NewSecretManagerSource(ctx, settings.TokenSecret)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, gsm.Close)
		tokens = append(tokens, gsm)
	}

	a.forwarder = mahoodle.NewForwarder(mahoodle.ForwarderConfig{
		Tokens:   tokens,
		Mappings: store.NewMappingRepository(db, cfg.TablePrefix),
		Caller:   webservice.NewClient(a.httpClient),
		SiteURL:  cfg.WWWRoot,
		Logger:   logger.With("module", mahoodle.ModuleName),
		Metrics:  mahoodle.NewMetrics(a.registry),
	})
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
}
