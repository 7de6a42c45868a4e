package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration shared by every MathStARz binary.
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	MongoDB     MongoConfig    `mapstructure:"mongodb"`
	Game        GameConfig     `mapstructure:"game"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Exporter    ExporterConfig `mapstructure:"exporter"`
	Syncer      SyncerConfig   `mapstructure:"syncer"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type MongoConfig struct {
	URI                 string        `mapstructure:"uri"`
	Database            string        `mapstructure:"database"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	UsersCollection     string        `mapstructure:"users_collection"`
	QuestionsCollection string        `mapstructure:"questions_collection"`
	PuzzlesCollection   string        `mapstructure:"puzzles_collection"`
}

type GameConfig struct {
	LeaderboardLimit    int  `mapstructure:"leaderboard_limit"`
	LeaderboardMaxLimit int  `mapstructure:"leaderboard_max_limit"`
	AtomicScore         bool `mapstructure:"atomic_score"`
	BcryptCost          int  `mapstructure:"bcrypt_cost"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	URI             string        `mapstructure:"uri"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ExporterConfig selects where the change stream resume token lives.
// TokenBackend is "file" or "redis".
type ExporterConfig struct {
	TokenBackend    string `mapstructure:"token_backend"`
	ResumeTokenPath string `mapstructure:"resume_token_path"`
	RedisKey        string `mapstructure:"redis_key"`
}

type SyncerConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WorkerCount   int           `mapstructure:"worker_count"`
}

// Load reads configuration from defaults, an optional file and the
// environment. serviceName is used when SERVICE_NAME is not set.
func Load(path, serviceName string) (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("service_name", serviceName)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.addr", ":10000")
	v.SetDefault("http.metrics_addr", ":9090")
	v.SetDefault("http.request_timeout", 15*time.Second)
	v.SetDefault("http.rate_limit", 120)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("mongodb.database", "mathstarzdb")
	v.SetDefault("mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("mongodb.users_collection", "users")
	v.SetDefault("mongodb.questions_collection", "questions")
	v.SetDefault("mongodb.puzzles_collection", "puzzles")

	v.SetDefault("game.leaderboard_limit", 5)
	v.SetDefault("game.leaderboard_max_limit", 100)
	v.SetDefault("game.atomic_score", true)
	v.SetDefault("game.bcrypt_cost", 10)

	v.SetDefault("kafka.topic", "mathstarz.users")
	v.SetDefault("kafka.group_id", "mathstarz-syncer")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", 30*time.Minute)

	v.SetDefault("exporter.token_backend", "file")
	v.SetDefault("exporter.resume_token_path", "resume_token.bin")
	v.SetDefault("exporter.redis_key", "mathstarz:exporter:resume_token")

	v.SetDefault("syncer.batch_size", 500)
	v.SetDefault("syncer.flush_interval", 500*time.Millisecond)
	v.SetDefault("syncer.worker_count", 4)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// Nested keys are not picked up by Unmarshal through AutomaticEnv alone.
	v.BindEnv("service_name", "SERVICE_NAME")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("http.addr", "HTTP_ADDR")
	v.BindEnv("http.metrics_addr", "HTTP_METRICS_ADDR")
	v.BindEnv("http.request_timeout", "HTTP_REQUEST_TIMEOUT")
	v.BindEnv("http.rate_limit", "HTTP_RATE_LIMIT")
	v.BindEnv("mongodb.uri", "MONGODB_URI", "MONGO_URI")
	v.BindEnv("mongodb.database", "MONGODB_DATABASE")
	v.BindEnv("mongodb.connect_timeout", "MONGODB_CONNECT_TIMEOUT")
	v.BindEnv("game.leaderboard_limit", "GAME_LEADERBOARD_LIMIT")
	v.BindEnv("game.atomic_score", "GAME_ATOMIC_SCORE")
	v.BindEnv("game.bcrypt_cost", "GAME_BCRYPT_COST")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("postgres.uri", "POSTGRES_URI")
	v.BindEnv("postgres.max_conns", "POSTGRES_MAX_CONNS")
	v.BindEnv("postgres.min_conns", "POSTGRES_MIN_CONNS")
	v.BindEnv("exporter.token_backend", "EXPORTER_TOKEN_BACKEND")
	v.BindEnv("exporter.resume_token_path", "EXPORTER_RESUME_TOKEN_PATH")
	v.BindEnv("syncer.batch_size", "SYNCER_BATCH_SIZE")
	v.BindEnv("syncer.flush_interval", "SYNCER_FLUSH_INTERVAL")
	v.BindEnv("syncer.worker_count", "SYNCER_WORKER_COUNT")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// A comma separated KAFKA_BROKERS arrives as a single string.
	brokers := v.GetString("kafka.brokers")
	if brokers != "" && len(config.Kafka.Brokers) <= 1 {
		config.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings every binary needs.
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.MongoDB.URI == "" {
		return errors.New("mongodb.uri is required")
	}
	if c.MongoDB.Database == "" {
		return errors.New("mongodb.database is required")
	}
	if c.Game.LeaderboardLimit < 1 {
		return errors.New("game.leaderboard_limit must be positive")
	}
	if c.Game.LeaderboardMaxLimit < c.Game.LeaderboardLimit {
		return errors.New("game.leaderboard_max_limit must not be below game.leaderboard_limit")
	}
	return nil
}

// ValidateExporter checks the settings the change exporter needs.
func (c *AppConfig) ValidateExporter() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	switch c.Exporter.TokenBackend {
	case "file":
		if c.Exporter.ResumeTokenPath == "" {
			return errors.New("exporter.resume_token_path is required")
		}
	case "redis":
		if c.Redis.Addr == "" || c.Exporter.RedisKey == "" {
			return errors.New("redis.addr and exporter.redis_key are required")
		}
	default:
		return errors.New("exporter.token_backend must be file or redis")
	}
	return nil
}

// ValidateSyncer checks the settings the reporting syncer needs.
func (c *AppConfig) ValidateSyncer() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	if c.Postgres.URI == "" {
		return errors.New("postgres.uri is required")
	}
	if c.Syncer.WorkerCount < 1 || c.Syncer.BatchSize < 1 {
		return errors.New("syncer.worker_count and syncer.batch_size must be positive")
	}
	return nil
}
