package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schema management modes applied when a persistence unit is opened.
const (
	AutoSchemaNone     = "none"
	AutoSchemaCreate   = "create"
	AutoSchemaValidate = "validate"
)

// Naming strategies mapping logical property names to physical columns.
const (
	NamingSnakeCase = "snake_case"
	NamingLowerCase = "lower_case"
	NamingVerbatim  = "verbatim"
)

// Config is the root configuration structure for Gray ORM.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Persistence PersistenceConfig `yaml:"persistence"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// PersistenceConfig lists the named persistence units.
type PersistenceConfig struct {
	DefaultUnit string                `yaml:"default_unit"`
	Units       map[string]UnitConfig `yaml:"units"`
}

// UnitConfig is one persistence unit: a database plus the entity types it manages.
type UnitConfig struct {
	Database DatabaseConfig `yaml:"database"`

	// Entities names the entity types managed by this unit. Empty means all registered types.
	Entities []string `yaml:"entities"`

	// ShowSQL logs every statement issued by a session.
	ShowSQL bool `yaml:"show_sql"`

	// FormatSQL breaks logged statements onto one line per clause.
	FormatSQL bool `yaml:"format_sql"`

	// AutoSchema is one of none, create or validate.
	AutoSchema string `yaml:"auto_schema"`

	// NamingStrategy is one of snake_case, lower_case or verbatim.
	NamingStrategy string `yaml:"naming_strategy"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// MaxOpenConns caps the connection pool. Each open session holds one connection.
	MaxOpenConns int `yaml:"max_open_conns"`

	// AcquireTimeout is how long opening a session waits for a free connection (milliseconds).
	AcquireTimeout int `yaml:"acquire_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// DefaultPageSize and MaxPageSize bound paginated listings.
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret leaves the mutating API routes unauthenticated.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Issuer         string `yaml:"issuer"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYORM_SECTION_KEY
// For example: GRAYORM_DATABASE_PATH, GRAYORM_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyUnitDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	cfg := defaultConfig()
	applyUnitDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Persistence: PersistenceConfig{
			DefaultUnit: "staff",
			Units: map[string]UnitConfig{
				"staff": defaultUnit(),
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayorm",
			},
			QoS:         1,
			TopicPrefix: "grayorm",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			DefaultPageSize: 20,
			MaxPageSize:     200,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "grayorm",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:         "grayorm",
				AccessTokenTTL: 15,
			},
		},
	}
}

func defaultUnit() UnitConfig {
	return UnitConfig{
		Database: DatabaseConfig{
			Path:           "./data/grayorm.db",
			WALMode:        true,
			BusyTimeout:    5,
			MaxOpenConns:   4,
			AcquireTimeout: 2000,
		},
		AutoSchema:     AutoSchemaCreate,
		NamingStrategy: NamingSnakeCase,
	}
}

// applyUnitDefaults fills zero-valued unit fields left out of the YAML file.
func applyUnitDefaults(cfg *Config) {
	def := defaultUnit()
	for name, u := range cfg.Persistence.Units {
		if u.Database.BusyTimeout == 0 {
			u.Database.BusyTimeout = def.Database.BusyTimeout
		}
		if u.Database.MaxOpenConns == 0 {
			u.Database.MaxOpenConns = def.Database.MaxOpenConns
		}
		if u.Database.AcquireTimeout == 0 {
			u.Database.AcquireTimeout = def.Database.AcquireTimeout
		}
		if u.AutoSchema == "" {
			u.AutoSchema = def.AutoSchema
		}
		if u.NamingStrategy == "" {
			u.NamingStrategy = def.NamingStrategy
		}
		cfg.Persistence.Units[name] = u
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Database overrides target the default unit.
func applyEnvOverrides(cfg *Config) {
	if u, ok := cfg.Persistence.Units[cfg.Persistence.DefaultUnit]; ok {
		if v := os.Getenv("GRAYORM_DATABASE_PATH"); v != "" {
			u.Database.Path = v
		}
		if v := os.Getenv("GRAYORM_SHOW_SQL"); v != "" {
			u.ShowSQL, _ = strconv.ParseBool(v) //nolint:errcheck // Unparseable means off
		}
		if v := os.Getenv("GRAYORM_AUTO_SCHEMA"); v != "" {
			u.AutoSchema = v
		}
		cfg.Persistence.Units[cfg.Persistence.DefaultUnit] = u
	}

	if v := os.Getenv("GRAYORM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYORM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYORM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYORM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYORM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYORM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYORM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("GRAYORM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and reports all of them at once.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Persistence.Units) == 0 {
		errs = append(errs, "persistence.units must define at least one unit")
	}
	if _, ok := c.Persistence.Units[c.Persistence.DefaultUnit]; !ok {
		errs = append(errs, fmt.Sprintf("persistence.default_unit %q is not a defined unit", c.Persistence.DefaultUnit))
	}

	names := make([]string, 0, len(c.Persistence.Units))
	for name := range c.Persistence.Units {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, c.Persistence.Units[name].validate(name)...)
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.DefaultPageSize < 1 || c.API.DefaultPageSize > c.API.MaxPageSize {
		errs = append(errs, "api.default_page_size must be between 1 and api.max_page_size")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// A configured secret must be strong enough that tokens cannot be forged.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (u UnitConfig) validate(name string) []string {
	var errs []string
	prefix := "persistence.units." + name

	if u.Database.Path == "" {
		errs = append(errs, prefix+".database.path is required")
	}
	if u.Database.MaxOpenConns < 1 {
		errs = append(errs, prefix+".database.max_open_conns must be at least 1")
	}
	if u.Database.AcquireTimeout < 0 {
		errs = append(errs, prefix+".database.acquire_timeout must not be negative")
	}

	switch u.AutoSchema {
	case AutoSchemaNone, AutoSchemaCreate, AutoSchemaValidate:
	default:
		errs = append(errs, fmt.Sprintf("%s.auto_schema %q must be none, create or validate", prefix, u.AutoSchema))
	}

	switch u.NamingStrategy {
	case NamingSnakeCase, NamingLowerCase, NamingVerbatim:
	default:
		errs = append(errs, fmt.Sprintf("%s.naming_strategy %q must be snake_case, lower_case or verbatim", prefix, u.NamingStrategy))
	}

	return errs
}

// Unit returns the named persistence unit, or the default unit when name is empty.
func (c *Config) Unit(name string) (UnitConfig, bool) {
	if name == "" {
		name = c.Persistence.DefaultUnit
	}
	u, ok := c.Persistence.Units[name]
	return u, ok
}

// GetAcquireTimeout returns the unit's connection acquire timeout as a Duration.
func (u UnitConfig) GetAcquireTimeout() time.Duration {
	return time.Duration(u.Database.AcquireTimeout) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
