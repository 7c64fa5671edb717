package database

import (
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// 后端名称，与 storage.kv / storage.products 配置一致
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendMySQL      = "mysql"
	BackendPostgreSQL = "postgresql"
	BackendMongoDB    = "mongodb"
)

// SQL 按后端名称获取 SQL 连接
// 如果未启用或未连接，返回错误
func (d *Databases) SQL(backend string) (*sql.DB, error) {
	var db *sql.DB
	switch backend {
	case BackendSQLite:
		db = d.SQLite
	case BackendMySQL:
		db = d.MySQL
	case BackendPostgreSQL:
		db = d.PostgreSQL
	default:
		return nil, fmt.Errorf("%q is not a SQL backend", backend)
	}
	if db == nil {
		return nil, fmt.Errorf("%s is not enabled or not connected", backend)
	}
	return db, nil
}

// Mongo 获取 MongoDB 数据库
// 如果未启用或未连接，返回错误
func (d *Databases) Mongo() (*mongo.Database, error) {
	if d.MongoDB == nil {
		return nil, fmt.Errorf("MongoDB is not enabled or not connected")
	}
	return d.MongoDB, nil
}
