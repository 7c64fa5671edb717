package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"taxoai/internal/config"
)

// Databases 数据库连接管理器
type Databases struct {
	SQLite     *sql.DB
	MySQL      *sql.DB
	PostgreSQL *sql.DB
	MongoDB    *mongo.Database
	logger     *zap.Logger
}

// Config 数据库配置，连接参数直接使用应用配置中的 database 段
type Config struct {
	config.DatabaseConfig
	Logger *zap.Logger
}

// 各数据库的连接参数
type (
	SQLiteConfig     = config.SQLiteConfig
	MySQLConfig      = config.MySQLConfig
	PostgreSQLConfig = config.PostgreSQLConfig
	MongoDBConfig    = config.MongoDBConfig
)

// New 创建数据库连接管理器，只连接已启用的数据库
func New(cfg Config) (*Databases, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	db := &Databases{
		logger: cfg.Logger,
	}

	// 连接 SQLite
	if cfg.SQLite.Enabled {
		if err := db.connectSQLite(cfg.SQLite); err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		cfg.Logger.Info("SQLite opened successfully", zap.String("path", cfg.SQLite.Path))
	}

	// 连接 MySQL
	if cfg.MySQL.Enabled {
		if err := db.connectMySQL(cfg.MySQL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect MySQL: %w", err)
		}
		cfg.Logger.Info("MySQL connected successfully")
	}

	// 连接 PostgreSQL
	if cfg.PostgreSQL.Enabled {
		if err := db.connectPostgreSQL(cfg.PostgreSQL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
		}
		cfg.Logger.Info("PostgreSQL connected successfully")
	}

	// 连接 MongoDB
	if cfg.MongoDB.Enabled {
		if err := db.connectMongoDB(cfg.MongoDB); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect MongoDB: %w", err)
		}
		cfg.Logger.Info("MongoDB connected successfully", zap.String("database", cfg.MongoDB.Database))
	}

	return db, nil
}

// connectSQLite 打开 SQLite 文件，开启 WAL 和忙等待
func (d *Databases) connectSQLite(cfg SQLiteConfig) error {
	path := cfg.Path
	if path == "" {
		path = "taxoai.db"
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite 只允许一个写连接
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping SQLite: %w", err)
	}

	d.SQLite = db
	return nil
}

// connectMySQL 连接 MySQL
func (d *Databases) connectMySQL(cfg MySQLConfig) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.Charset,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping MySQL: %w", err)
	}

	d.MySQL = db
	return nil
}

// connectPostgreSQL 连接 PostgreSQL
func (d *Databases) connectPostgreSQL(cfg PostgreSQLConfig) error {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	d.PostgreSQL = db
	return nil
}

// connectMongoDB 连接 MongoDB
func (d *Databases) connectMongoDB(cfg MongoDBConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, MongoClientOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect MongoDB: %w", err)
	}

	// 测试连接
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	d.MongoDB = client.Database(cfg.Database)
	return nil
}

// MongoClientOptions 根据配置构建 MongoDB 客户端选项
func MongoClientOptions(cfg MongoDBConfig) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.URI)

	// 如果提供了用户名和密码，设置认证
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetAuth(options.Credential{
			AuthSource: cfg.AuthSource,
			Username:   cfg.Username,
			Password:   cfg.Password,
		})
	}
	if cfg.ReplicaSet != "" {
		opts.SetReplicaSet(cfg.ReplicaSet)
	}

	// 设置连接池参数
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxIdleTime != "" {
		if maxIdleTime, err := time.ParseDuration(cfg.MaxIdleTime); err == nil {
			opts.SetMaxConnIdleTime(maxIdleTime)
		}
	}
	return opts
}

// Close 关闭所有数据库连接
func (d *Databases) Close() error {
	var errs []error

	for name, db := range map[string]*sql.DB{
		"SQLite":     d.SQLite,
		"MySQL":      d.MySQL,
		"PostgreSQL": d.PostgreSQL,
	} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		} else {
			d.logger.Info("database connection closed", zap.String("database", name))
		}
	}

	if d.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := d.MongoDB.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB: %w", err))
		} else {
			d.logger.Info("MongoDB connection closed")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing databases: %v", errs)
	}

	return nil
}

// Ping 检查所有已启用数据库的连接状态
func (d *Databases) Ping(ctx context.Context) error {
	for name, db := range map[string]*sql.DB{
		"SQLite":     d.SQLite,
		"MySQL":      d.MySQL,
		"PostgreSQL": d.PostgreSQL,
	} {
		if db == nil {
			continue
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	if d.MongoDB != nil {
		if err := d.MongoDB.Client().Ping(ctx, nil); err != nil {
			return fmt.Errorf("MongoDB ping failed: %w", err)
		}
	}

	return nil
}
