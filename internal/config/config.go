// Package config loads service settings from an optional YAML file and
// HARVQ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/spf13/viper"
)

const envPrefix = "HARVQ"

type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Redis    RedisConfig            `mapstructure:"redis"`
	Postgres PostgresConfig         `mapstructure:"postgres"`
	Harvest  HarvestConfig          `mapstructure:"harvest"`
	Keywords keyword.ExpanderConfig `mapstructure:"keywords"`
	Export   ExportConfig           `mapstructure:"export"`
	Worker   WorkerConfig           `mapstructure:"worker"`
	Session  SessionConfig          `mapstructure:"session"`
	Notify   NotifyConfig           `mapstructure:"notify"`
	Logger   LoggerConfig           `mapstructure:"logger"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type PostgresConfig struct {
	// DSN is optional; task history is kept in Redis only when empty.
	DSN string `mapstructure:"dsn"`
}

type HarvestConfig struct {
	harvest.Options `mapstructure:",squash"`
	PostsLimitMax   int `mapstructure:"posts_limit_max"`
}

type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

type WorkerConfig struct {
	ID           string        `mapstructure:"id"`
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
}

type SessionConfig struct {
	NatsURL       string        `mapstructure:"nats_url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// Rate is the platform-wide request budget per second shared by every
	// harvest running in one worker.
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type NotifyConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type EmailConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
	To        string `mapstructure:"to"`
}

func (e EmailConfig) Enabled() bool {
	return e.APIKey != "" && e.To != ""
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

func setDefaults(v *viper.Viper) {
	opts := harvest.DefaultOptions()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("harvest.reply_limit", opts.ReplyLimit)
	v.SetDefault("harvest.max_attempts", opts.MaxAttempts)
	v.SetDefault("harvest.post_pause", opts.PostPause)
	v.SetDefault("harvest.heavy_post_pause", opts.HeavyPostPause)
	v.SetDefault("harvest.heavy_post_threshold", opts.HeavyPostThreshold)
	v.SetDefault("harvest.posts_limit_max", 1000)
	v.SetDefault("keywords.expander", keyword.ExpanderIdentity)
	v.SetDefault("keywords.language", "russian")
	v.SetDefault("keywords.lexicon_path", "")
	v.SetDefault("export.output_dir", "./data/output")
	v.SetDefault("worker.id", "worker-1")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.claim_timeout", 5*time.Minute)
	v.SetDefault("session.nats_url", "nats://localhost:4222")
	v.SetDefault("session.subject_prefix", "session")
	v.SetDefault("session.timeout", 30*time.Second)
	v.SetDefault("session.rate", 20.0)
	v.SetDefault("session.burst", 5)
	v.SetDefault("notify.email.api_key", "")
	v.SetDefault("notify.email.from_email", "noreply@harvq.local")
	v.SetDefault("notify.email.from_name", "harvq")
	v.SetDefault("notify.email.to", "")
	v.SetDefault("notify.telegram.token", "")
	v.SetDefault("notify.telegram.chat_id", 0)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})
}

// Load reads path when it is not empty, then applies environment overrides
// such as HARVQ_REDIS_ADDR for redis.addr.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	if c.Harvest.MaxAttempts <= 0 {
		errs = append(errs, errors.New("harvest.max_attempts must be positive"))
	}
	if c.Harvest.PostsLimitMax <= 0 {
		errs = append(errs, errors.New("harvest.posts_limit_max must be positive"))
	}
	if c.Session.Rate <= 0 {
		errs = append(errs, errors.New("session.rate must be positive"))
	}
	return errors.Join(errs...)
}
