package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Storage MongoDB 存储管理器
type Storage struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewStorage 创建新的存储管理器
func NewStorage(db *mongo.Database, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetCollection 获取集合
func (s *Storage) GetCollection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// UpsertOne 按 filter 更新单个文档，不存在时插入
func (s *Storage) UpsertOne(ctx context.Context, collectionName string, filter, update interface{}) (*mongo.UpdateResult, error) {
	opts := options.Update().SetUpsert(true)

	result, err := s.db.Collection(collectionName).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		s.logger.Error("failed to upsert document",
			zap.String("collection", collectionName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to upsert data: %w", err)
	}

	s.logger.Debug("document upserted",
		zap.String("collection", collectionName),
		zap.Int64("matched_count", result.MatchedCount),
		zap.Int64("modified_count", result.ModifiedCount),
		zap.Any("upserted_id", result.UpsertedID),
	)
	return result, nil
}

// UpdateOne 更新单个已存在的文档
func (s *Storage) UpdateOne(ctx context.Context, collectionName string, filter, update interface{}) (*mongo.UpdateResult, error) {
	result, err := s.db.Collection(collectionName).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update data: %w", err)
	}
	return result, nil
}

// FindOne 查询单个文档并解码到 dest，不存在时返回 false
func (s *Storage) FindOne(ctx context.Context, collectionName string, filter interface{}, dest interface{}, opts ...*options.FindOneOptions) (bool, error) {
	err := s.db.Collection(collectionName).FindOne(ctx, filter, opts...).Decode(dest)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find document: %w", err)
	}
	return true, nil
}

// FindDocuments 查询文档
func (s *Storage) FindDocuments(ctx context.Context, collectionName string, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	cursor, err := s.db.Collection(collectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	return cursor, nil
}

// CountDocuments 统计文档数量
func (s *Storage) CountDocuments(ctx context.Context, collectionName string, filter interface{}) (int64, error) {
	n, err := s.db.Collection(collectionName).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// DeleteOne 删除单个文档
func (s *Storage) DeleteOne(ctx context.Context, collectionName string, filter interface{}) error {
	if _, err := s.db.Collection(collectionName).DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// DeleteMany 删除匹配的文档，返回删除数量
func (s *Storage) DeleteMany(ctx context.Context, collectionName string, filter interface{}) (int64, error) {
	result, err := s.db.Collection(collectionName).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return result.DeletedCount, nil
}

// CreateIndexes 创建索引
func (s *Storage) CreateIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}
	names, err := s.db.Collection(collectionName).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collectionName, err)
	}
	s.logger.Debug("indexes ensured",
		zap.String("collection", collectionName),
		zap.Strings("indexes", names),
	)
	return nil
}

// ToDocumentValue 把任意值经 JSON 转换为可直接存入 BSON 的值
// 对象会变成嵌套文档，而不是二进制或字符串
func ToDocumentValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return normalizeNumbers(doc), nil
}

// normalizeNumbers 整数保存为 int64，其余数字保存为 float64
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, item := range t {
			t[k] = normalizeNumbers(item)
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
		return t
	}
	return v
}

// FromDocumentValue 把读出的 BSON 值解码到 dest
func FromDocumentValue(raw bson.RawValue, dest interface{}) error {
	// 用 relaxed extended JSON 包一层再取出 v
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: raw}}, false, false)
	if err != nil {
		return fmt.Errorf("failed to encode document value: %w", err)
	}
	var wrapper struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("failed to decode document value: %w", err)
	}
	return json.Unmarshal(wrapper.V, dest)
}
