package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig web server configuration
type WebConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	ApiKey string `yaml:"api_key"`
}

// DBConfig database configuration. Type is "postgres" or "sqlite".
type DBConfig struct {
	Type     string `yaml:"type"`
	Dsn      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// RedisConfig ephemeral cache configuration. An empty Url selects the in-process cache.
type RedisConfig struct {
	Url string `yaml:"url"`
}

// WebhookConfig outbound event sink
type WebhookConfig struct {
	Url     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

// SessionConfig instance lifecycle knobs
type SessionConfig struct {
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	QRTTL                time.Duration `yaml:"qr_ttl"`
	CredentialBackend    string        `yaml:"credential_backend"` // database | bolt
	ResumeOnBoot         bool          `yaml:"resume_on_boot"`
	MaxMediaBytes        int64         `yaml:"max_media_bytes"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system"`
	Web      WebConfig     `yaml:"web"`
	Database DBConfig      `yaml:"database"`
	Logger   LogConfig     `yaml:"logger"`
	Redis    RedisConfig   `yaml:"redis"`
	Webhook  WebhookConfig `yaml:"webhook"`
	Session  SessionConfig `yaml:"session"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// InitDirs creates the working directories
func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{c.GetLogDir(), c.GetDataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings the gateway cannot run without.
func (c *AppConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Web.ApiKey) == "" {
		missing = append(missing, "API_KEY")
	}
	switch c.Session.CredentialBackend {
	case "database", "bolt":
	default:
		return fmt.Errorf("unsupported credential backend: %s", c.Session.CredentialBackend)
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "WAGateway",
		Location: "UTC",
		Workdir:  "/var/wagateway",
		Debug:    false,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 3000,
	},
	Database: DBConfig{
		Type:     "sqlite",
		Name:     "wagateway.db",
		Host:     "127.0.0.1",
		Port:     5432,
		User:     "postgres",
		MaxConn:  50,
		IdleConn: 5,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: false,
		Filename:   "/var/wagateway/logs/wagateway.log",
	},
	Webhook: WebhookConfig{
		Timeout: 5 * time.Second,
		Workers: 64,
	},
	Session: SessionConfig{
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 10,
		QRTTL:                60 * time.Second,
		CredentialBackend:    "database",
		MaxMediaBytes:        16 << 20,
	},
}

// LoadConfig reads the YAML file (if any), then applies .env and environment overrides.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := *DefaultAppConfig
	if cfile == "" {
		cfile = "wagateway.yml"
	}
	if _, err := os.Stat(cfile); err == nil {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfile, err)
		}
	}
	// .env is optional
	_ = godotenv.Load()
	applyEnv(&cfg)
	return &cfg, nil
}

func setEnvValue(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvInt(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			*val = i
		}
	}
}

func setEnvInt64(name string, val *int64) {
	if v := os.Getenv(name); v != "" {
		if i, err := cast.ToInt64E(v); err == nil {
			*val = i
		}
	}
}

func setEnvBool(name string, val *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*val = b
		}
	}
}

func setEnvDuration(name string, val *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			*val = d
		}
	}
}

func applyEnv(cfg *AppConfig) {
	setEnvValue("WAGATEWAY_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WAGATEWAY_LOCATION", &cfg.System.Location)
	setEnvBool("WAGATEWAY_DEBUG", &cfg.System.Debug)

	setEnvValue("WAGATEWAY_WEB_HOST", &cfg.Web.Host)
	setEnvInt("PORT", &cfg.Web.Port)
	setEnvValue("API_KEY", &cfg.Web.ApiKey)

	setEnvValue("WAGATEWAY_DB_TYPE", &cfg.Database.Type)
	setEnvValue("DATABASE_URL", &cfg.Database.Dsn)
	setEnvValue("WAGATEWAY_DB_HOST", &cfg.Database.Host)
	setEnvInt("WAGATEWAY_DB_PORT", &cfg.Database.Port)
	setEnvValue("WAGATEWAY_DB_NAME", &cfg.Database.Name)
	setEnvValue("WAGATEWAY_DB_USER", &cfg.Database.User)
	setEnvValue("WAGATEWAY_DB_PWD", &cfg.Database.Passwd)
	setEnvBool("WAGATEWAY_DB_DEBUG", &cfg.Database.Debug)
	if cfg.Database.Dsn != "" && os.Getenv("WAGATEWAY_DB_TYPE") == "" {
		cfg.Database.Type = "postgres"
	}

	setEnvValue("WAGATEWAY_LOG_MODE", &cfg.Logger.Mode)
	setEnvBool("WAGATEWAY_LOG_FILE_ENABLE", &cfg.Logger.FileEnable)

	setEnvValue("REDIS_URL", &cfg.Redis.Url)

	setEnvValue("WEBHOOK_URL", &cfg.Webhook.Url)
	setEnvValue("WEBHOOK_SECRET", &cfg.Webhook.Secret)
	setEnvDuration("WEBHOOK_TIMEOUT", &cfg.Webhook.Timeout)
	setEnvInt("WEBHOOK_WORKERS", &cfg.Webhook.Workers)

	setEnvDuration("SESSION_RECONNECT_DELAY", &cfg.Session.ReconnectDelay)
	setEnvInt("SESSION_MAX_RECONNECT_ATTEMPTS", &cfg.Session.MaxReconnectAttempts)
	setEnvDuration("SESSION_QR_TTL", &cfg.Session.QRTTL)
	setEnvValue("SESSION_CREDENTIAL_BACKEND", &cfg.Session.CredentialBackend)
	setEnvBool("SESSION_RESUME_ON_BOOT", &cfg.Session.ResumeOnBoot)
	setEnvInt64("SESSION_MAX_MEDIA_BYTES", &cfg.Session.MaxMediaBytes)
}
