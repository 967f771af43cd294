package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchClinic reloads clinic.yaml on change and calls onUpdate with the latest config.
// It performs an initial load before entering the watch loop. Invalid edits are logged
// and the previous config stays in effect.
func WatchClinic(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*ClinicConfig)) error {
	if path == "" {
		path = "configs/clinic.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadClinicConfig(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				// A file that fails to load is skipped until its mtime changes again.
				lastMod = info.ModTime()
				cfg, err := LoadClinicConfig(path)
				if err != nil {
					if logger != nil {
						logger.Error().Err(err).Str("path", path).Msg("clinic config reload rejected")
					}
					continue
				}
				if logger != nil {
					logger.Info().Str("config", cfg.String()).Msg("clinic config reloaded")
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
