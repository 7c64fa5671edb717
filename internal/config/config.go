package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env" validate:"oneof=development production test"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DefaultTimeout string `mapstructure:"default_timeout"` // 例如: "30m"
	Location       string `mapstructure:"location"`        // 例如: "UTC"
	SweepSchedule  string `mapstructure:"sweep_schedule"`  // 过期 transient 清理的 cron 表达式
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"` // 日志输出路径，为空时只输出到控制台
	MaxSize    int    `mapstructure:"max_size"`    // 日志文件最大大小(MB)
	MaxBackups int    `mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `mapstructure:"max_age"`     // 日志保留天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧日志
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
}

// SQLiteConfig SQLite 配置
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Charset  string `mapstructure:"charset"`
	// 连接池配置
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeStr string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTimeStr string `mapstructure:"conn_max_idle_time"`

	// 解析后的时间，由 Load 函数填充
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgreSQLConfig PostgreSQL 配置
type PostgreSQLConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	// 连接池配置
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeStr string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTimeStr string `mapstructure:"conn_max_idle_time"`

	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MongoDBConfig MongoDB 配置
type MongoDBConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	AuthSource  string `mapstructure:"auth_source"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ReplicaSet  string `mapstructure:"replica_set"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
	MaxIdleTime string `mapstructure:"max_idle_time"`
}

// StorageConfig 选择各类数据的存储后端
type StorageConfig struct {
	Products string `mapstructure:"products" validate:"oneof=memory mongodb"`
	KV       string `mapstructure:"kv" validate:"oneof=memory sqlite mysql postgresql mongodb"`
	SeedFile string `mapstructure:"seed_file"` // 启动时导入的产品 YAML
}

// APIConfig TaxoAI API 配置
type APIConfig struct {
	Key       string `mapstructure:"key"`
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	Timeout   string `mapstructure:"timeout"` // 例如: "15s"
	UserAgent string `mapstructure:"user_agent"`

	TimeoutDuration time.Duration
}

// SettingsConfig 分析行为设置
type SettingsConfig struct {
	Language            string  `mapstructure:"language" validate:"oneof=es en pt"`
	AutoAnalyze         bool    `mapstructure:"auto_analyze"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	AutoMapCategories   bool    `mapstructure:"auto_map_categories"`
	AnalyzeImages       bool    `mapstructure:"analyze_images"`
	UpdateTitle         bool    `mapstructure:"update_title"`
	UpdateDescription   bool    `mapstructure:"update_description"`
	SEOPlugin           string  `mapstructure:"seo_plugin" validate:"oneof=yoast rankmath fallback"`
}

// UsageConfig 用量配额配置
type UsageConfig struct {
	FreeTierLimit int    `mapstructure:"free_tier_limit" validate:"gt=0"`
	CacheTTL      string `mapstructure:"cache_ttl"`

	CacheTTLDuration time.Duration
}

// BatchConfig 批量任务配置
type BatchConfig struct {
	// ApplyIntegrators 批量结果是否也按置信度应用到产品，默认只存储
	ApplyIntegrators bool   `mapstructure:"apply_integrators"`
	JobMapTTL        string `mapstructure:"job_map_ttl"`
	PollInterval     string `mapstructure:"poll_interval"`

	JobMapTTLDuration    time.Duration
	PollIntervalDuration time.Duration
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Enabled bool       `mapstructure:"enabled"` // 是否启用服务器
	Host    string     `mapstructure:"host"`    // 监听地址
	Port    int        `mapstructure:"port" validate:"gt=0,lte=65535"`
	Mode    string     `mapstructure:"mode" validate:"oneof=debug release test"`
	Auth    AuthConfig `mapstructure:"auth"`
}

// AuthConfig 管理 API 鉴权
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // 为空时不鉴权
	Issuer    string `mapstructure:"issuer"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	// .env 文件是可选的
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	// 设置环境变量，例如 TAXOAI_API_KEY 对应 api.key
	v.SetEnvPrefix("TAXOAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 解析时间字符串
	if err := config.parseDurations(); err != nil {
		return nil, fmt.Errorf("failed to parse durations: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	backends := map[string]bool{
		"sqlite":     c.Database.SQLite.Enabled,
		"mysql":      c.Database.MySQL.Enabled,
		"postgresql": c.Database.PostgreSQL.Enabled,
		"mongodb":    c.Database.MongoDB.Enabled,
	}
	for _, backend := range []string{c.Storage.KV, c.Storage.Products} {
		if backend == "memory" {
			continue
		}
		if !backends[backend] {
			return fmt.Errorf("invalid config: storage backend %q requires database.%s.enabled", backend, backend)
		}
	}
	return nil
}

// parseDurations 解析时间字符串
func (c *Config) parseDurations() error {
	parse := func(name, value string, dst *time.Duration) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = d
		return nil
	}

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"database.mysql.conn_max_lifetime", c.Database.MySQL.ConnMaxLifetimeStr, &c.Database.MySQL.ConnMaxLifetime},
		{"database.mysql.conn_max_idle_time", c.Database.MySQL.ConnMaxIdleTimeStr, &c.Database.MySQL.ConnMaxIdleTime},
		{"database.postgresql.conn_max_lifetime", c.Database.PostgreSQL.ConnMaxLifetimeStr, &c.Database.PostgreSQL.ConnMaxLifetime},
		{"database.postgresql.conn_max_idle_time", c.Database.PostgreSQL.ConnMaxIdleTimeStr, &c.Database.PostgreSQL.ConnMaxIdleTime},
		{"api.timeout", c.API.Timeout, &c.API.TimeoutDuration},
		{"usage.cache_ttl", c.Usage.CacheTTL, &c.Usage.CacheTTLDuration},
		{"batch.job_map_ttl", c.Batch.JobMapTTL, &c.Batch.JobMapTTLDuration},
		{"batch.poll_interval", c.Batch.PollInterval, &c.Batch.PollIntervalDuration},
	}

	for _, f := range fields {
		if err := parse(f.name, f.value, f.dst); err != nil {
			return err
		}
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// App 默认值
	v.SetDefault("app.name", "taxoai")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.env", "development")

	// Scheduler 默认值
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.default_timeout", "5m")
	v.SetDefault("scheduler.location", "UTC")
	v.SetDefault("scheduler.sweep_schedule", "0 */15 * * * *")

	// Logger 默认值
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "logs/taxoai.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)

	// SQLite
	v.SetDefault("database.sqlite.enabled", false)
	v.SetDefault("database.sqlite.path", "data/taxoai.db")

	// MySQL
	v.SetDefault("database.mysql.enabled", false)
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "taxoai")
	v.SetDefault("database.mysql.charset", "utf8mb4")
	v.SetDefault("database.mysql.max_open_conns", 25)
	v.SetDefault("database.mysql.max_idle_conns", 5)
	v.SetDefault("database.mysql.conn_max_lifetime", "5m")
	v.SetDefault("database.mysql.conn_max_idle_time", "10m")

	// PostgreSQL
	v.SetDefault("database.postgresql.enabled", false)
	v.SetDefault("database.postgresql.host", "localhost")
	v.SetDefault("database.postgresql.port", 5432)
	v.SetDefault("database.postgresql.username", "")
	v.SetDefault("database.postgresql.password", "")
	v.SetDefault("database.postgresql.database", "taxoai")
	v.SetDefault("database.postgresql.sslmode", "disable")
	v.SetDefault("database.postgresql.max_open_conns", 25)
	v.SetDefault("database.postgresql.max_idle_conns", 5)
	v.SetDefault("database.postgresql.conn_max_lifetime", "5m")
	v.SetDefault("database.postgresql.conn_max_idle_time", "10m")

	// MongoDB
	v.SetDefault("database.mongodb.enabled", false)
	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.database", "taxoai")
	v.SetDefault("database.mongodb.auth_source", "admin")
	v.SetDefault("database.mongodb.username", "")
	v.SetDefault("database.mongodb.password", "")
	v.SetDefault("database.mongodb.max_pool_size", 100)
	v.SetDefault("database.mongodb.min_pool_size", 10)
	v.SetDefault("database.mongodb.max_idle_time", "30m")

	// Storage 默认值
	v.SetDefault("storage.products", "memory")
	v.SetDefault("storage.kv", "memory")
	v.SetDefault("storage.seed_file", "")

	// TaxoAI API 默认值
	v.SetDefault("api.key", "")
	v.SetDefault("api.base_url", "https://api.taxoai.dev")
	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.user_agent", "taxoai-go/1.0")

	// 分析设置默认值
	v.SetDefault("settings.language", "es")
	v.SetDefault("settings.auto_analyze", false)
	v.SetDefault("settings.confidence_threshold", 0.7)
	v.SetDefault("settings.auto_map_categories", false)
	v.SetDefault("settings.analyze_images", false)
	v.SetDefault("settings.update_title", false)
	v.SetDefault("settings.update_description", false)
	v.SetDefault("settings.seo_plugin", "fallback")

	// 用量默认值
	v.SetDefault("usage.free_tier_limit", 25)
	v.SetDefault("usage.cache_ttl", "300s")

	// 批量任务默认值
	v.SetDefault("batch.apply_integrators", false)
	v.SetDefault("batch.job_map_ttl", "1h")
	v.SetDefault("batch.poll_interval", "3s")

	// Server 默认值
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.issuer", "taxoai")
}

// GetDefaultTimeout 获取默认超时时间
func (c *Config) GetDefaultTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Scheduler.DefaultTimeout)
}

// GetLocation 获取时区
func (c *Config) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Location)
}
