package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taxoai/internal/config"
	"taxoai/internal/database"
	"taxoai/internal/repository"
	"taxoai/internal/store"
	"taxoai/internal/store/memory"
	"taxoai/internal/store/sqlstore"
)

// kvStore option 和 transient 存储
type kvStore interface {
	store.OptionStore
	store.TransientStore
	store.Sweeper
}

// productStore 产品存储，同时支持写入基础字段
type productStore interface {
	store.ProductStore
	store.ProductWriter
}

// stores 按配置选出的存储后端
type stores struct {
	kv       kvStore
	products productStore
}

// openStores 根据 storage.kv 和 storage.products 选择后端
// 两者都为 memory 时共享同一个内存存储
func openStores(ctx context.Context, cfg *config.Config, dbs *database.Databases, logger *zap.Logger) (*stores, error) {
	var (
		mem   *memory.Store
		mongo *repository.MongoRepository
	)
	memoryStore := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	mongoRepo := func() (*repository.MongoRepository, error) {
		if mongo != nil {
			return mongo, nil
		}
		db, err := dbs.Mongo()
		if err != nil {
			return nil, err
		}
		mongo = repository.NewMongoRepository(repository.Config{
			Storage: database.NewStorage(db, logger),
			Logger:  logger,
		})
		if err := mongo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		return mongo, nil
	}

	s := &stores{}

	switch cfg.Storage.KV {
	case database.BackendMemory:
		s.kv = memoryStore()
	case database.BackendMongoDB:
		repo, err := mongoRepo()
		if err != nil {
			return nil, err
		}
		s.kv = repo
	default:
		db, err := dbs.SQL(cfg.Storage.KV)
		if err != nil {
			return nil, err
		}
		sqlStore, err := sqlstore.New(sqlstore.Config{
			DB:      db,
			Dialect: sqlstore.Dialect(cfg.Storage.KV),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		if err := sqlStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate %s store: %w", cfg.Storage.KV, err)
		}
		s.kv = sqlStore
	}

	switch cfg.Storage.Products {
	case database.BackendMongoDB:
		repo, err := mongoRepo()
		if err != nil {
			return nil, err
		}
		s.products = repo
	default:
		s.products = memoryStore()
	}

	logger.Info("storage backends selected",
		zap.String("kv", cfg.Storage.KV),
		zap.String("products", cfg.Storage.Products),
	)
	return s, nil
}
