package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type App struct {
	Env             string   `mapstructure:"env"`
	Port            string   `mapstructure:"port"`
	ShutdownSeconds int      `mapstructure:"shutdown_seconds"`
	AdminEmails     []string `mapstructure:"admin_emails"`
}

type Store struct {
	Driver string `mapstructure:"driver"` // mongo | memory
}

type Mongo struct {
	URI            string `mapstructure:"uri"`
	DB             string `mapstructure:"db"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Bus struct {
	Driver  string `mapstructure:"driver"` // local | redis | nats | kafka
	Channel string `mapstructure:"channel"`
}

type NATS struct {
	URL string `mapstructure:"url"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWT struct {
	Alg            string `mapstructure:"alg"` // HS256 | RS256
	Secret         string `mapstructure:"secret"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PublicKeyPath  string `mapstructure:"public_key_path"`
	TTLMinutes     int    `mapstructure:"ttl_minutes"`
	Issuer         string `mapstructure:"issuer"`
}

type WS struct {
	PingSeconds       int   `mapstructure:"ping_seconds"`
	WriteWaitSeconds  int   `mapstructure:"write_wait_seconds"`
	MaxMessageBytes   int64 `mapstructure:"max_message_bytes"`
	InboundPerSecond  int   `mapstructure:"inbound_per_second"`
	SendBufferEntries int   `mapstructure:"send_buffer"`
}

type Chat struct {
	TypingIdleMillis int   `mapstructure:"typing_idle_ms"`
	PageSize         int   `mapstructure:"page_size"`
	MaxImageBytes    int64 `mapstructure:"max_image_bytes"`
	RateLimitPerMin  int   `mapstructure:"rate_limit_per_min"`
	StatusMaxLength  int   `mapstructure:"status_max_length"`
}

type Blob struct {
	Driver string `mapstructure:"driver"` // s3 | memory
}

type S3 struct {
	Region      string `mapstructure:"region"`
	Bucket      string `mapstructure:"bucket"`
	Endpoint    string `mapstructure:"endpoint"`
	PublicRead  bool   `mapstructure:"public_read"`
	PresignMins int    `mapstructure:"presign_minutes"`
	MaxFailures uint32 `mapstructure:"max_failures"`
}

type Mail struct {
	Driver   string `mapstructure:"driver"` // brevo | log
	APIKey   string `mapstructure:"api_key"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	ResetURL string `mapstructure:"reset_url"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Config holds all configuration values
type Config struct {
	App   App   `mapstructure:"app"`
	Store Store `mapstructure:"store"`
	Mongo Mongo `mapstructure:"mongo"`
	Redis Redis `mapstructure:"redis"`
	Bus   Bus   `mapstructure:"bus"`
	NATS  NATS  `mapstructure:"nats"`
	Kafka Kafka `mapstructure:"kafka"`
	JWT   JWT   `mapstructure:"jwt"`
	WS    WS    `mapstructure:"ws"`
	Chat  Chat  `mapstructure:"chat"`
	Blob  Blob  `mapstructure:"blob"`
	S3    S3    `mapstructure:"s3"`
	Mail  Mail  `mapstructure:"mail"`
	Log   Log   `mapstructure:"log"`
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownSeconds) * time.Second
}

func (c *Config) MongoTimeout() time.Duration {
	return time.Duration(c.Mongo.TimeoutSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.TTLMinutes) * time.Minute
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.WS.PingSeconds) * time.Second
}

func (c *Config) WriteWait() time.Duration {
	return time.Duration(c.WS.WriteWaitSeconds) * time.Second
}

func (c *Config) TypingIdle() time.Duration {
	return time.Duration(c.Chat.TypingIdleMillis) * time.Millisecond
}

func (c *Config) PresignTTL() time.Duration {
	return time.Duration(c.S3.PresignMins) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.shutdown_seconds", 10)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "habibi")
	v.SetDefault("mongo.timeout_seconds", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("bus.driver", "local")
	v.SetDefault("bus.channel", "chat.changes")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "chat.changes")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.ttl_minutes", 60*24)
	v.SetDefault("jwt.issuer", "habibi-connection")
	v.SetDefault("ws.ping_seconds", 30)
	v.SetDefault("ws.write_wait_seconds", 10)
	v.SetDefault("ws.max_message_bytes", 2<<20)
	v.SetDefault("ws.inbound_per_second", 20)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("chat.typing_idle_ms", 2000)
	v.SetDefault("chat.page_size", 10)
	v.SetDefault("chat.max_image_bytes", 1<<20)
	v.SetDefault("chat.rate_limit_per_min", 120)
	v.SetDefault("chat.status_max_length", 80)
	v.SetDefault("blob.driver", "memory")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.presign_minutes", 60)
	v.SetDefault("s3.max_failures", 5)
	v.SetDefault("mail.driver", "log")
	v.SetDefault("log.level", "info")
}

// Load reads path (if it exists) and overlays CHAT_* environment variables,
// e.g. CHAT_MONGO_URI overrides mongo.uri.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("chat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory":
	case "mongo":
		if cfg.Mongo.URI == "" || cfg.Mongo.DB == "" {
			return errors.New("mongo.uri and mongo.db are required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}

	switch cfg.Bus.Driver {
	case "local", "redis":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for the nats bus")
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return errors.New("kafka.brokers and kafka.topic are required for the kafka bus")
		}
	default:
		return fmt.Errorf("unknown bus.driver %q", cfg.Bus.Driver)
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "HS256":
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is required for HS256")
		}
	case "RS256":
		if cfg.JWT.PrivateKeyPath == "" || cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.private_key_path and jwt.public_key_path are required for RS256")
		}
	default:
		return fmt.Errorf("unsupported jwt.alg %q", cfg.JWT.Alg)
	}

	switch cfg.Blob.Driver {
	case "memory":
	case "s3":
		if cfg.S3.Bucket == "" {
			return errors.New("s3.bucket is required for the s3 blob store")
		}
	default:
		return fmt.Errorf("unknown blob.driver %q", cfg.Blob.Driver)
	}

	switch cfg.Mail.Driver {
	case "log":
	case "brevo":
		if cfg.Mail.APIKey == "" || cfg.Mail.From == "" {
			return errors.New("mail.api_key and mail.from are required for brevo")
		}
	default:
		return fmt.Errorf("unknown mail.driver %q", cfg.Mail.Driver)
	}

	if cfg.Chat.PageSize <= 0 {
		return errors.New("chat.page_size must be positive")
	}
	if cfg.Chat.TypingIdleMillis <= 0 {
		return errors.New("chat.typing_idle_ms must be positive")
	}
	return nil
}

// IsAdmin reports whether email is configured as an administrator.
func (c *Config) IsAdmin(email string) bool {
	for _, e := range c.App.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	return false
}
