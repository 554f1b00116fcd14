// Package config loads markwatch configuration from a YAML file and
// MARKWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config is the complete runtime configuration.
type Config struct {
	Wiki     WikiConfig     `koanf:"wiki"`
	Marker   MarkerConfig   `koanf:"marker"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Reminder ReminderConfig `koanf:"reminder"`
	Agent    AgentConfig    `koanf:"agent"`
	Operator OperatorConfig `koanf:"operator"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Journal  JournalConfig  `koanf:"journal"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

// WikiConfig holds the MediaWiki endpoint and credentials.
type WikiConfig struct {
	APIURL     string        `koanf:"api_url"`
	Username   string        `koanf:"username"`
	Password   Secret        `koanf:"password"`
	UserAgent  string        `koanf:"user_agent"`
	RateLimit  float64       `koanf:"rate_limit"`
	Burst      int           `koanf:"burst"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

// MarkerConfig names the tracked template.
type MarkerConfig struct {
	Name        string `koanf:"name"`
	SpacePrefix int    `koanf:"space_prefix"`
	Namespaces  []int  `koanf:"namespaces"`
}

// LedgerConfig locates the ledger page.
type LedgerConfig struct {
	Page    string `koanf:"page"`
	Summary string `koanf:"summary"`
	Persist bool   `koanf:"persist"`
}

// ReminderConfig controls overdue reminders.
type ReminderConfig struct {
	Threshold       time.Duration `koanf:"threshold"`
	RecentEditGrace time.Duration `koanf:"recent_edit_grace"`
	Deliver         bool          `koanf:"deliver"`
	TalkPrefix      string        `koanf:"talk_prefix"`
	Template        string        `koanf:"template"`
	Summary         string        `koanf:"summary"`
	StripOverdue    bool          `koanf:"strip_overdue"`
	StripSummary    string        `koanf:"strip_summary"`
}

// AgentConfig identifies the bot for exclusion checks.
type AgentConfig struct {
	Name string `koanf:"name"`
}

// OperatorConfig names the page that receives failure reports.
type OperatorConfig struct {
	Page string `koanf:"page"`
}

// ScheduleConfig sets the daily run time.
type ScheduleConfig struct {
	DailyAt  string `koanf:"daily_at"`
	Timezone string `koanf:"timezone"`
}

// JournalConfig locates the SQLite run journal. An empty path disables it.
type JournalConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig sets the Prometheus listen address. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Secret is a string that never prints its value.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the secret itself.
func (s Secret) Value() string {
	return string(s)
}

// Defaults returns the configuration used for keys absent from every source.
func Defaults() Config {
	return Config{
		Wiki: WikiConfig{
			APIURL:     "https://nl.wikipedia.org/w/api.php",
			UserAgent:  "markwatch/1.0 (https://github.com/roach88/markwatch)",
			RateLimit:  2,
			Burst:      4,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Marker: MarkerConfig{
			Name:        "meebezig",
			SpacePrefix: 3,
			Namespaces:  []int{0},
		},
		Ledger: LedgerConfig{
			Page:    "Gebruiker:MeebezigBot/Overzicht",
			Persist: true,
		},
		Reminder: ReminderConfig{
			Threshold:       7 * 24 * time.Hour,
			RecentEditGrace: 7 * 24 * time.Hour,
			Deliver:         true,
		},
		Agent: AgentConfig{Name: "MeebezigBot"},
		Schedule: ScheduleConfig{
			DailyAt:  "00:00",
			Timezone: "Europe/Amsterdam",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// applyDefaults fills zero values that have a meaningful default. Booleans
// are seeded before loading instead, so an explicit false survives.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Wiki.APIURL == "" {
		cfg.Wiki.APIURL = d.Wiki.APIURL
	}
	if cfg.Wiki.UserAgent == "" {
		cfg.Wiki.UserAgent = d.Wiki.UserAgent
	}
	if cfg.Wiki.RateLimit == 0 {
		cfg.Wiki.RateLimit = d.Wiki.RateLimit
	}
	if cfg.Wiki.Burst == 0 {
		cfg.Wiki.Burst = d.Wiki.Burst
	}
	if cfg.Wiki.Timeout == 0 {
		cfg.Wiki.Timeout = d.Wiki.Timeout
	}
	if cfg.Wiki.MaxRetries == 0 {
		cfg.Wiki.MaxRetries = d.Wiki.MaxRetries
	}
	if cfg.Marker.Name == "" {
		cfg.Marker.Name = d.Marker.Name
	}
	if len(cfg.Marker.Namespaces) == 0 {
		cfg.Marker.Namespaces = d.Marker.Namespaces
	}
	if cfg.Ledger.Page == "" {
		cfg.Ledger.Page = d.Ledger.Page
	}
	if cfg.Reminder.Threshold == 0 {
		cfg.Reminder.Threshold = d.Reminder.Threshold
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = d.Agent.Name
	}
	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = d.Schedule.DailyAt
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = d.Schedule.Timezone
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Wiki.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid wiki api_url %q", c.Wiki.APIURL)
	}
	if c.Wiki.Username != "" && c.Wiki.Password == "" {
		return errors.New("wiki password required when username is set")
	}
	if c.Wiki.RateLimit < 0 {
		return fmt.Errorf("wiki rate_limit must not be negative: %v", c.Wiki.RateLimit)
	}
	if c.Wiki.Timeout < 0 {
		return errors.New("wiki timeout must not be negative")
	}

	if c.Marker.SpacePrefix < 0 || c.Marker.SpacePrefix >= len([]rune(c.Marker.Name)) {
		return fmt.Errorf("marker space_prefix %d out of range for %q", c.Marker.SpacePrefix, c.Marker.Name)
	}
	for _, ns := range c.Marker.Namespaces {
		if ns < 0 {
			return fmt.Errorf("invalid namespace %d", ns)
		}
	}

	if c.Reminder.Threshold <= 0 {
		return errors.New("reminder threshold must be positive")
	}
	if c.Reminder.RecentEditGrace < 0 {
		return errors.New("reminder recent_edit_grace must not be negative")
	}
	if c.Reminder.Template != "" && !strings.Contains(c.Reminder.Template, "$1") {
		return errors.New("reminder template must reference the document as $1")
	}

	if _, _, err := c.Schedule.Clock(); err != nil {
		return err
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", c.Log.Format)
	}

	return nil
}

// Clock parses DailyAt as hour and minute.
func (s ScheduleConfig) Clock() (hour, minute int, err error) {
	h, m, ok := strings.Cut(s.DailyAt, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid schedule daily_at %q (want HH:MM)", s.DailyAt)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid schedule daily_at %q: bad hour", s.DailyAt)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid schedule daily_at %q: bad minute", s.DailyAt)
	}
	return hour, minute, nil
}

// Location resolves Timezone; empty means UTC.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}
