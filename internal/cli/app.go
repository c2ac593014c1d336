package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/harun/toolbox/internal/audit"
	"github.com/harun/toolbox/internal/config"
	"github.com/harun/toolbox/internal/logger"
	"github.com/harun/toolbox/internal/metrics"
	"github.com/harun/toolbox/pkg/mcpserver"
	"github.com/harun/toolbox/pkg/toolregistry"
)

// app wires a loaded config into a running tool server
type app struct {
	cfgPath string
	log     *logger.Logger
	logger  zerolog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	registry *toolregistry.Registry
	server   *mcpserver.Server
}

// newLogger builds the process logger from the config and --log-level.
// Console output always goes to stderr.
func newLogger(cfg *config.Config, stderr io.Writer) (*logger.Logger, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	return logger.New(logger.Config{
		Level:      level,
		File:       cfg.Logging.File,
		Console:    true,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Output:     stderr,
	})
}

func newApp(cfgPath string, cfg *config.Config, stderr io.Writer) (*app, error) {
	log, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		cfgPath: cfgPath,
		log:     log,
		logger:  log.Component("cli"),
		metrics: metrics.NewMetrics(),
	}

	observers := toolregistry.Observers{a.metrics}
	if cfg.Audit.File != "" {
		a.audit, err = audit.Open(cfg.Audit.File, log.Redactor())
		if err != nil {
			_ = log.Close()
			return nil, err
		}
		observers = append(observers, a.audit)
	}

	a.registry = toolregistry.New(toolregistry.Options{
		MaxOutputBytes: cfg.Server.MaxOutputBytes,
		Logger:         log.GetZerolog(),
		Observer:       observers,
	})
	a.registry.Replace(cfg.Registrations())
	a.metrics.SetToolsRegistered(a.registry.Len())

	a.server, err = mcpserver.New(mcpserver.Options{
		Name:     cfg.Server.Name,
		Version:  cfg.Server.Version,
		Tools:    a.registry,
		Observer: a.metrics,
		Logger:   log.GetZerolog(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.logger.Info().
		Str("config", cfgPath).
		Str("server", cfg.Server.Name).
		Int("tools", a.registry.Len()).
		Msg("Tool set loaded")

	return a, nil
}

// reload swaps in the tools from a freshly loaded config. Server identity
// and output limits keep their startup values.
func (a *app) reload(cfg *config.Config) {
	a.registry.Replace(cfg.Registrations())
	a.metrics.SetToolsRegistered(a.registry.Len())
	a.metrics.ObserveReload(nil)
	if a.audit != nil {
		a.audit.RecordReload(context.Background(), a.cfgPath, a.registry.Len(), nil)
	}

	a.logger.Info().Int("tools", a.registry.Len()).Msg("Config reloaded")
	a.server.NotifyToolsChanged()
}

// reloadFailed keeps the previous tool set in effect
func (a *app) reloadFailed(err error) {
	a.metrics.ObserveReload(err)
	if a.audit != nil {
		a.audit.RecordReload(context.Background(), a.cfgPath, a.registry.Len(), err)
	}
	a.logger.Error().Err(err).Msg("Config reload failed, keeping previous tools")
}

func (a *app) close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close audit log")
		}
	}
	_ = a.log.Close()
}
