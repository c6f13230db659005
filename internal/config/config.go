package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/odlemon/khaya-portal-sub001/pkg/config"
	"github.com/odlemon/khaya-portal-sub001/pkg/pubsub"
)

type Config struct {
	Server     ServerConfig
	API        APIConfig
	Realtime   RealtimeConfig
	WebSocket  WebSocketConfig
	Credential CredentialConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	PubSub     pubsub.Config `mapstructure:"pubsub"`
	Log        LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

// APIConfig points at the marketplace REST API.
type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`

	// RateLimit caps outgoing requests per second; 0 disables the limit.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// RealtimeConfig points at the marketplace WebSocket transport.
type RealtimeConfig struct {
	URL               string        `mapstructure:"url"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
}

// WebSocketConfig tunes the browser relay.
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// CredentialConfig selects where the admin session token lives.
type CredentialConfig struct {
	Driver     string        `mapstructure:"driver"` // static, database, redis
	Token      string        `mapstructure:"token"`
	Name       string        `mapstructure:"name"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config", "")
	if err != nil {
		return nil, err
	}
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Durations may arrive as plain strings from env vars.
	cfg.API.Timeout = parseDuration(v, "api.timeout", 15*time.Second)
	cfg.Realtime.PingInterval = parseDuration(v, "realtime.ping_interval", 25*time.Second)
	cfg.Realtime.PongWait = parseDuration(v, "realtime.pong_wait", 60*time.Second)
	cfg.Realtime.WriteWait = parseDuration(v, "realtime.write_wait", 10*time.Second)
	cfg.Realtime.ReconnectDelay = parseDuration(v, "realtime.reconnect_delay", time.Second)
	cfg.Realtime.MaxReconnectDelay = parseDuration(v, "realtime.max_reconnect_delay", 30*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Credential.RetryAfter = parseDuration(v, "credential.retry_after", 2*time.Second)
	cfg.PubSub.Redis.ReadTimeout = parseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = parseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("api.base_url", "http://localhost:5000/api")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.page_size", 20)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 5)
	v.SetDefault("realtime.url", "ws://localhost:5000/ws")
	v.SetDefault("realtime.ping_interval", "25s")
	v.SetDefault("realtime.pong_wait", "60s")
	v.SetDefault("realtime.write_wait", "10s")
	v.SetDefault("realtime.reconnect_delay", "1s")
	v.SetDefault("realtime.max_reconnect_delay", "30s")
	v.SetDefault("realtime.max_message_size", 65536)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("credential.driver", "database")
	v.SetDefault("credential.token", "")
	v.SetDefault("credential.name", "admin")
	v.SetDefault("credential.jwt_secret", "")
	v.SetDefault("credential.retry_after", "2s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "chat_console")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/console.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chat-console")
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "chat-console")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("api.rate_limit", "API_RATE_LIMIT")
	v.BindEnv("realtime.url", "SOCKET_URL")
	v.BindEnv("credential.driver", "CREDENTIAL_DRIVER")
	v.BindEnv("credential.token", "ADMIN_TOKEN")
	v.BindEnv("credential.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
