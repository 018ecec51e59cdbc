package app

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/observability/diag"
	"relaybot/internal/storage"
	"relaybot/internal/task/forwarder"
	"relaybot/internal/task/report"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

const defaultDBPath = "./relaybot.db"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "memory", "none":
		return storage.Config{Driver: "memory"}, nil
	case "", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = defaultDBPath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
}

func mapForwarderConfig(cfg *config.Config) (forwarder.Config, error) {
	delay, err := config.ParseDurationOrDefault("relay.forward_delay", cfg.Relay.ForwardDelay, forwarder.DefaultForwardDelay)
	if err != nil {
		return forwarder.Config{}, err
	}
	backoff, err := config.ParseDurationOrDefault("relay.error_backoff", cfg.Relay.ErrorBackoff, forwarder.DefaultErrorBackoff)
	if err != nil {
		return forwarder.Config{}, err
	}
	return forwarder.Config{ForwardDelay: delay, ErrorBackoff: backoff}, nil
}

// mapReportConfig sends reports to the log group. Without one the report
// stays disabled even when report.enabled is set.
func mapReportConfig(cfg *config.Config) (report.Config, error) {
	chatID, err := config.ParseGroupLog(cfg.Telegram.GroupLog)
	if err != nil {
		return report.Config{}, err
	}
	return report.Config{
		Enabled:  cfg.Report.Enabled && chatID != 0,
		Schedule: cfg.Report.Schedule,
		Timezone: cfg.Report.Timezone,
		ChatID:   chatID,
	}, nil
}

func mapRouterOptions(cfg *config.Config) router.Options {
	opts := router.Options{Workers: cfg.Relay.Workers, QueueSize: cfg.Relay.InboundBuffer}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultInboundBuffer
	}
	return opts
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	return diag.Config{
		Enabled: cfg.Debug.Enabled,
		Addr:    cfg.Debug.Addr,
		Token:   cfg.Debug.Token,
	}
}
