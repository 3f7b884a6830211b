package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Identify IdentifyConfig `yaml:"identify" mapstructure:"identify"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Popup    PopupConfig    `yaml:"popup" mapstructure:"popup"`
	Map      MapConfig      `yaml:"map" mapstructure:"map"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// IdentifyConfig configures the identify coordinator.
type IdentifyConfig struct {
	Tolerance      int    `yaml:"tolerance" mapstructure:"tolerance"`
	LayerOption    string `yaml:"layer_option" mapstructure:"layer_option"`
	JoinMode       string `yaml:"join_mode" mapstructure:"join_mode"`
	IgnoredURLs    string `yaml:"ignored_urls" mapstructure:"ignored_urls"`
	MaxConcurrency int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// HTTPConfig configures the ArcGIS REST client.
type HTTPConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// PopupConfig sizes the server-rendered popup cache.
type PopupConfig struct {
	CacheSize int           `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// MapConfig points at the map session file.
type MapConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and GEOPORTAL_*
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("identify.tolerance", 5)
	v.SetDefault("identify.layer_option", "visible")
	v.SetDefault("identify.join_mode", "best_effort")
	v.SetDefault("identify.ignored_urls", "")
	v.SetDefault("identify.max_concurrency", 0)
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.user_agent", "geoportal-identify/1.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("popup.cache_size", 1000)
	v.SetDefault("popup.cache_ttl", "10m")
	v.SetDefault("map.path", "map.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
