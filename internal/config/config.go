package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "NETSENTRY"

type Config struct {
	Listen  string        `mapstructure:"listen"`
	DB      DBConfig      `mapstructure:"db"`
	Capture CaptureConfig `mapstructure:"capture"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	AI      AIConfig      `mapstructure:"ai"`
	Sampler SamplerConfig `mapstructure:"sampler"`
	NATS    NATSConfig    `mapstructure:"nats"`
	EBPF    EBPFConfig    `mapstructure:"ebpf"`
	Log     LogConfig     `mapstructure:"log"`
}

type DBConfig struct {
	Driver       string        `mapstructure:"driver"`
	Path         string        `mapstructure:"path"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type CaptureConfig struct {
	Interface     string        `mapstructure:"interface"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	DedupCapacity int           `mapstructure:"dedup_capacity"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

type EnrichConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	GeoURL        string        `mapstructure:"geo_url"`
	ReputationURL string        `mapstructure:"reputation_url"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	GeoIPDB       string        `mapstructure:"geoip_db"`
}

type AIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	AlertTimeout time.Duration `mapstructure:"alert_timeout"`
	ChatTimeout  time.Duration `mapstructure:"chat_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type SamplerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	AlertThreshold float64       `mapstructure:"alert_threshold"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type EBPFConfig struct {
	Enable bool `mapstructure:"enable"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load 按 默认值 -> 配置文件 -> 环境变量 的顺序合并配置。
// path 为空时在当前目录和 /etc/netsentry 下查找 netsentry.yaml，找不到就只用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("netsentry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netsentry/")
	}

	// NETSENTRY_DB_PATH 覆盖 db.path
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ai.api_key", envPrefix+"_AI_API_KEY", "GROQ_API_KEY"); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败：%w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败：%w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败：%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":5000")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "./netsentry.db")
	v.SetDefault("db.write_timeout", "2s")

	v.SetDefault("capture.interface", "any")
	v.SetDefault("capture.poll_interval", "2s")
	v.SetDefault("capture.dedup_capacity", 1000)
	v.SetDefault("capture.startup_delay", "0s")

	v.SetDefault("enrich.timeout", "5s")
	v.SetDefault("enrich.geo_url", "https://geolocation-db.com/json/%s&position=true")
	v.SetDefault("enrich.reputation_url", "http://api.blocklist.de/api.php?ip=%s&format=json")
	v.SetDefault("enrich.cache_size", 4096)
	v.SetDefault("enrich.cache_ttl", "10m")
	v.SetDefault("enrich.geoip_db", "")

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("ai.model", "meta-llama/llama-4-scout-17b-16e-instruct")
	v.SetDefault("ai.alert_timeout", "10s")
	v.SetDefault("ai.chat_timeout", "15s")
	v.SetDefault("ai.queue_size", 32)

	v.SetDefault("sampler.interval", "5s")
	v.SetDefault("sampler.alert_threshold", 90.0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "netsentry.threats")

	v.SetDefault("ebpf.enable", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "duckdb":
	default:
		return fmt.Errorf("不支持的数据库类型：%s", c.DB.Driver)
	}
	if c.Listen == "" {
		return errors.New("listen 不能为空")
	}
	if c.Capture.DedupCapacity <= 0 {
		return fmt.Errorf("capture.dedup_capacity 必须大于 0：%d", c.Capture.DedupCapacity)
	}
	if c.Capture.PollInterval <= 0 || c.Sampler.Interval <= 0 {
		return errors.New("capture.poll_interval 与 sampler.interval 必须大于 0")
	}
	if c.Enrich.Timeout <= 0 {
		return errors.New("enrich.timeout 必须大于 0")
	}
	if c.AI.QueueSize <= 0 {
		return fmt.Errorf("ai.queue_size 必须大于 0：%d", c.AI.QueueSize)
	}
	return nil
}
