package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taxoai/internal/store"
)

// Dialect SQL 方言
type Dialect string

const (
	DialectSQLite     Dialect = "sqlite"
	DialectMySQL      Dialect = "mysql"
	DialectPostgreSQL Dialect = "postgresql"
)

// Store 基于 database/sql 的 option 和 transient 存储
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *zap.Logger
}

// Config 存储配置
type Config struct {
	DB      *sql.DB
	Dialect Dialect
	Now     func() time.Time
	Logger  *zap.Logger
}

var (
	_ store.OptionStore    = (*Store)(nil)
	_ store.TransientStore = (*Store)(nil)
	_ store.Sweeper        = (*Store)(nil)
)

// New 创建 SQL 存储，不会自动建表，需调用 Migrate
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("sql store requires a database handle")
	}
	switch cfg.Dialect {
	case DialectSQLite, DialectMySQL, DialectPostgreSQL:
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %q", cfg.Dialect)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Store{
		db:      cfg.DB,
		dialect: cfg.Dialect,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Migrate 创建所需的表
func (s *Store) Migrate(ctx context.Context) error {
	keyType := "TEXT"
	valueType := "TEXT"
	if s.dialect == DialectMySQL {
		keyType = "VARCHAR(191)"
		valueType = "LONGTEXT"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS taxoai_options (
			name %s NOT NULL PRIMARY KEY,
			value %s NOT NULL
		)`, keyType, valueType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS taxoai_transients (
			name %s NOT NULL PRIMARY KEY,
			value %s NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`, keyType, valueType),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate sql store: %w", err)
		}
	}

	s.logger.Debug("sql store migrated", zap.String("dialect", string(s.dialect)))
	return nil
}

// rebind 将 ? 占位符转换为方言对应的形式
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgreSQL {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsert 返回方言对应的 upsert 语句
func (s *Store) upsert(table string, columns ...string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)

	var sets []string
	for _, c := range columns[1:] {
		if s.dialect == DialectMySQL {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	if s.dialect == DialectMySQL {
		return s.rebind(base + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	}
	return s.rebind(base + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET ", columns[0]) + strings.Join(sets, ", "))
}

// ---- options ----

func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT value FROM taxoai_options WHERE name = ?"), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get option %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) SetOption(ctx context.Context, name, value string) error {
	if _, err := s.db.ExecContext(ctx, s.upsert("taxoai_options", "name", "value"), name, value); err != nil {
		return fmt.Errorf("failed to set option %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteOption(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM taxoai_options WHERE name = ?"), name); err != nil {
		return fmt.Errorf("failed to delete option %s: %w", name, err)
	}
	return nil
}

// ---- transients ----

func (s *Store) GetTransient(ctx context.Context, name string, dest any) (bool, error) {
	var (
		value     string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT value, expires_at FROM taxoai_transients WHERE name = ?"), name,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get transient %s: %w", name, err)
	}

	if expiresAt > 0 && s.now().Unix() > expiresAt {
		// 过期的记录在读取时删除
		if err := s.DeleteTransient(ctx, name); err != nil {
			s.logger.Warn("failed to delete expired transient", zap.String("name", name), zap.Error(err))
		}
		return false, nil
	}

	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("failed to decode transient %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) SetTransient(ctx context.Context, name string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode transient %s: %w", name, err)
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}

	if _, err := s.db.ExecContext(ctx,
		s.upsert("taxoai_transients", "name", "value", "expires_at"),
		name, string(data), expiresAt,
	); err != nil {
		return fmt.Errorf("failed to set transient %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteTransient(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM taxoai_transients WHERE name = ?"), name); err != nil {
		return fmt.Errorf("failed to delete transient %s: %w", name, err)
	}
	return nil
}

// SweepExpired 删除已过期的 transient
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM taxoai_transients WHERE expires_at > 0 AND expires_at < ?"),
		s.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep transients: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept transients: %w", err)
	}
	return n, nil
}
