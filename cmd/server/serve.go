package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/themis-pm/collab-relay/internal/app"
	"github.com/themis-pm/collab-relay/internal/config"
	"github.com/themis-pm/collab-relay/internal/log"
)

// loadConfig resolves configuration: defaults < config file < env < flags.
func loadConfig(cmd *cobra.Command) (config.Config, *zerolog.Logger, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	bootLogger := log.New("info", "console")
	cfg, resolved, err := config.Load(bootLogger, path)
	if err != nil {
		return cfg, bootLogger, err
	}

	var override config.Config
	override.Addr, _ = flags.GetString("addr")
	override.DatabasePath, _ = flags.GetString("db")
	override.LogLevel, _ = flags.GetString("log-level")
	override.Docs.AutosaveDelay, _ = flags.GetDuration("autosave-delay")
	cfg.UpdateFrom(override)

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", resolved).Msg("configuration loaded")
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting themis relay")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
