// Package config loads the scheduler configuration from a YAML file, an
// optional .env file, and the process environment, in that order of
// increasing precedence. Command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // fixed zone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// AuthConfig holds account and token settings.
type AuthConfig struct {
	// InviteCode must be presented at registration.
	InviteCode string `yaml:"invite_code"`
	// JWTSecret signs owner tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTLHours is the lifetime of an owner token.
	TokenTTLHours int `yaml:"token_ttl_hours"`
}

// StoreConfig selects the schedule store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	MongoDB string `yaml:"mongo_db"`
}

// RedisConfig enables Redis-backed token revocation when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig enables event publishing when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// ValveConfig wires a local relay.
type ValveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Chip      string `yaml:"chip"`
	Pin       int    `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// Env is "development" (console encoder) or "production" (JSON).
	Env string `yaml:"env"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Timezone is the single IANA zone schedules are written in.
	Timezone string `yaml:"timezone"`

	// PollCron is the standard 5-field cron spec for the poll cadence.
	PollCron string `yaml:"poll_cron"`

	// HeartbeatSeconds is the MQTT heartbeat interval; 0 disables it.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	// StatusRateLimit is the per-IP requests per second allowed on /status.
	StatusRateLimit int `yaml:"status_rate_limit"`

	Auth  AuthConfig  `yaml:"auth"`
	Store StoreConfig `yaml:"store"`
	Redis RedisConfig `yaml:"redis"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Valve ValveConfig `yaml:"valve"`
	Log   LogConfig   `yaml:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           ":5000",
		Timezone:         "America/Sao_Paulo",
		PollCron:         "* * * * *",
		HeartbeatSeconds: 900,
		StatusRateLimit:  5,
		Auth: AuthConfig{
			InviteCode:    "IRRIGACAO2025",
			JWTSecret:     "dev-secret-key-change-in-production",
			TokenTTLHours: 24,
		},
		Store: StoreConfig{
			Driver:  DriverSQLite,
			DSN:     "irrigacao.db",
			MongoDB: "irrigacao",
		},
		MQTT: MQTTConfig{ClientID: "irrigation-scheduler"},
		Valve: ValveConfig{
			Chip:      "gpiochip0",
			Pin:       17,
			ActiveLow: true,
		},
		Log: LogConfig{Level: "info", Env: "production"},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled files still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.PollCron == "" {
		c.PollCron = d.PollCron
	}
	if c.HeartbeatSeconds < 0 {
		c.HeartbeatSeconds = 0
	}
	if c.StatusRateLimit <= 0 {
		c.StatusRateLimit = d.StatusRateLimit
	}
	if c.Auth.InviteCode == "" {
		c.Auth.InviteCode = d.Auth.InviteCode
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = d.Auth.JWTSecret
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = d.Auth.TokenTTLHours
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
		if c.Store.DSN == "" {
			c.Store.DSN = d.Store.DSN
		}
	}
	if c.Store.MongoDB == "" {
		c.Store.MongoDB = d.Store.MongoDB
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.Valve.Chip == "" {
		c.Valve.Chip = d.Valve.Chip
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = d.Log.Level
	}
	if c.Log.Env != "development" {
		c.Log.Env = "production"
	}
}

// Validate reports the first setting the daemon cannot start with.
func (c *Config) Validate() error {
	loc, err := c.Location()
	if err != nil {
		return err
	}
	sched, err := cron.ParseStandard(c.PollCron)
	if err != nil {
		return fmt.Errorf("poll_cron %q: %w", c.PollCron, err)
	}
	if missed, ok := firesEveryMinute(sched, loc); !ok {
		return fmt.Errorf("poll_cron %q must fire every minute; no tick at %s", c.PollCron, missed.Format("Mon 15:04"))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %s requires a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Valve.Enabled && c.Valve.Pin < 0 {
		return fmt.Errorf("valve pin %d out of range", c.Valve.Pin)
	}
	return nil
}

// firesEveryMinute walks one week of minutes and reports the first one sched
// leaves without a tick. Entries are matched on the tick's minute, so a
// skipped minute is a skipped watering.
func firesEveryMinute(sched cron.Schedule, loc *time.Location) (time.Time, bool) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, loc)
	for m := start; m.Before(start.AddDate(0, 0, 7)); m = m.Add(time.Minute) {
		if next := sched.Next(m.Add(-time.Nanosecond)); !next.Before(m.Add(time.Minute)) {
			return m, false
		}
	}
	return time.Time{}, true
}

// Location resolves the configured zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Heartbeat returns the heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// TokenTTL returns the owner token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// Load loads configuration from the given YAML path.
//
// A missing file is created with the defaults (0600) and the defaults are
// returned. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".irrigation-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with environment variables read through lookup
// (os.LookupEnv in production). Malformed numbers are reported, not ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Listen = ":" + port
	}
	str("IRRIGATION_LISTEN", &c.Listen)
	str("IRRIGATION_TIMEZONE", &c.Timezone)
	str("IRRIGATION_POLL_CRON", &c.PollCron)
	num("IRRIGATION_HEARTBEAT_SECONDS", &c.HeartbeatSeconds)
	num("IRRIGATION_STATUS_RATE_LIMIT", &c.StatusRateLimit)

	str("CODIGO_CONVITE", &c.Auth.InviteCode)
	str("SECRET_KEY", &c.Auth.JWTSecret)
	num("IRRIGATION_TOKEN_TTL_HOURS", &c.Auth.TokenTTLHours)

	if u, ok := lookup("DATABASE_URL"); ok && u != "" {
		c.Store.Driver, c.Store.DSN = NormalizeDatabaseURL(u)
	}
	str("IRRIGATION_MONGO_DB", &c.Store.MongoDB)

	str("IRRIGATION_REDIS_ADDR", &c.Redis.Addr)
	str("IRRIGATION_REDIS_PASSWORD", &c.Redis.Password)
	num("IRRIGATION_REDIS_DB", &c.Redis.DB)

	str("IRRIGATION_MQTT_BROKER", &c.MQTT.Broker)
	str("IRRIGATION_MQTT_CLIENT_ID", &c.MQTT.ClientID)

	flag("IRRIGATION_VALVE_ENABLED", &c.Valve.Enabled)
	str("IRRIGATION_VALVE_CHIP", &c.Valve.Chip)
	num("IRRIGATION_VALVE_PIN", &c.Valve.Pin)
	flag("IRRIGATION_VALVE_ACTIVE_LOW", &c.Valve.ActiveLow)

	str("IRRIGATION_LOG_LEVEL", &c.Log.Level)
	str("IRRIGATION_ENV", &c.Log.Env)

	c.Normalize()
	return errors.Join(errs...)
}

// NormalizeDatabaseURL maps a DATABASE_URL onto a store driver and DSN.
//
//	""                          -> sqlite3, irrigacao.db
//	postgres://...              -> postgres, unchanged
//	postgresql+psycopg://...    -> postgres, postgres://...
//	sqlite:///path/to.db        -> sqlite3, path/to.db
//	mongodb://, mongodb+srv://  -> mongo, unchanged
//	memory://                   -> memory
//
// Anything else is treated as a sqlite file path.
func NormalizeDatabaseURL(u string) (driver, dsn string) {
	u = strings.TrimSpace(u)
	switch {
	case u == "":
		return DriverSQLite, "irrigacao.db"
	case strings.HasPrefix(u, "memory:"):
		return DriverMemory, ""
	case strings.HasPrefix(u, "mongodb://"), strings.HasPrefix(u, "mongodb+srv://"):
		return DriverMongo, u
	case strings.HasPrefix(u, "postgres://"):
		return DriverPostgres, u
	case strings.HasPrefix(u, "postgresql"):
		if i := strings.Index(u, "://"); i >= 0 {
			return DriverPostgres, "postgres" + u[i:]
		}
		return DriverPostgres, u
	case strings.HasPrefix(u, "sqlite:///"):
		return DriverSQLite, strings.TrimPrefix(u, "sqlite:///")
	case strings.HasPrefix(u, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(u, "sqlite://")
	default:
		return DriverSQLite, u
	}
}
