package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultInboundBuffer = 256
	DefaultWorkers       = 2
	DefaultPollTimeout   = 10 * time.Second
	DefaultReportSpec    = "0 9 * * *"
)

// ParseDurationField parses a Go duration string. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseGroupLog parses telegram.group_log. Empty means disabled (0).
func ParseGroupLog(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return id, nil
}

// Validate checks the parts of cfg that can be checked without I/O. The
// token is not required here because it may come from the environment.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseGroupLog(cfg.Telegram.GroupLog); err != nil {
		errs = append(errs, err)
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.owner_user_ids: invalid user id %d", id))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("relay.forward_delay", cfg.Relay.ForwardDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("relay.error_backoff", cfg.Relay.ErrorBackoff); err != nil {
		errs = append(errs, err)
	}
	if cfg.Relay.InboundBuffer < 0 {
		errs = append(errs, errors.New("relay.inbound_buffer: must be >= 0"))
	}
	if cfg.Relay.Workers < 0 {
		errs = append(errs, errors.New("relay.workers: must be >= 0"))
	}
	if cfg.Report.Enabled {
		spec := strings.TrimSpace(cfg.Report.Schedule)
		if spec == "" {
			spec = DefaultReportSpec
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("report.schedule: %w", err))
		}
		if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("report.timezone: %w", err))
			}
		}
	}
	if cfg.Debug.Enabled {
		if err := validateDebugAddr(cfg.Debug); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultDebugAddr is used when debug.addr is empty.
const DefaultDebugAddr = "127.0.0.1:6060"

func validateDebugAddr(d DebugConfig) error {
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = DefaultDebugAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if strings.TrimSpace(d.Token) != "" {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("debug.addr: %q is not loopback; set debug.token", addr)
}
