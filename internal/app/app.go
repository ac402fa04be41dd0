// Package app wires configuration into a store and an authorization service
// for the server and the operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"solarforecast.org/internal/audit"
	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/config"
	"solarforecast.org/internal/obs"
	"solarforecast.org/internal/store/memory"
	"solarforecast.org/internal/store/pg"
)

// OpenStore returns the configured store and a func releasing it.
func OpenStore(cfg config.StoreConfig) (auth.Store, func() error, error) {
	switch cfg.Kind {
	case config.StoreMemory:
		return memory.New(), func() error { return nil }, nil
	case config.StorePostgres:
		s, err := pg.OpenWithPool(cfg.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// NewService builds the service with audit logging and the configured
// reserved organizations, then bootstraps it.
func NewService(ctx context.Context, cfg config.Config, store auth.Store) (*auth.Service, error) {
	log := obs.Logger().WithField("component", "auth")
	svc, err := auth.NewService(store,
		auth.WithLogger(log),
		auth.WithAuditor(audit.New(obs.Logger())),
		auth.WithReservedOrganizations(cfg.Metadata.UnaffiliatedOrganization, cfg.Metadata.ReferenceOrganization),
		auth.WithPrivilegedOrganizations(cfg.Metadata.PrivilegedOrganizations...),
	)
	if err != nil {
		return nil, err
	}
	if err := svc.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	log.WithFields(logrus.Fields{
		"store":      cfg.Store.Kind,
		"privileged": len(svc.PrivilegedOrganizations()),
	}).Info("authorization service ready")
	return svc, nil
}

// ConfigureLogging applies the log settings to the shared logger.
func ConfigureLogging(cfg config.LogConfig) {
	obs.SetLevel(cfg.Level)
	obs.SetFormat(cfg.Format)
}
