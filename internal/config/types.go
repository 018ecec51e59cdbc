package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Relay    RelayConfig    `json:"relay"`
	Report   ReportConfig   `json:"report"`
	Debug    DebugConfig    `json:"debug"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
//	"storage": { "driver": "sqlite", "path": "./relaybot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RelayConfig tunes the forwarding loop. Durations are Go duration strings.
//
// Defaults: forward_delay "1s", error_backoff "10s", inbound_buffer 256.
type RelayConfig struct {
	// Autostart launches the forwarder at boot instead of waiting for /forward.
	Autostart     bool   `json:"autostart"`
	ForwardDelay  string `json:"forward_delay,omitempty"`
	ErrorBackoff  string `json:"error_backoff,omitempty"`
	InboundBuffer int    `json:"inbound_buffer,omitempty"`
	Workers       int    `json:"workers,omitempty"`
}

// ReportConfig schedules the status report posted to telegram.group_log.
// Schedule is a standard 5-field cron expression.
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// DebugConfig controls the diagnostics HTTP server (pprof and /healthz).
// A non-loopback addr requires a token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}
