package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"taxoai/internal/database"
	"taxoai/internal/model"
	"taxoai/internal/sanitize"
	"taxoai/internal/store"
)

// MongoRepository 基于 MongoDB 的产品、配置项和 transient 存储
// 使用 database.Storage 作为底层存储实现
type MongoRepository struct {
	storage *database.Storage
	now     func() time.Time
	logger  *zap.Logger
}

// Config MongoRepository 配置
type Config struct {
	Storage *database.Storage
	Now     func() time.Time
	Logger  *zap.Logger
}

// NewMongoRepository 创建新的 MongoRepository 实例
func NewMongoRepository(cfg Config) *MongoRepository {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &MongoRepository{
		storage: cfg.Storage,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// EnsureIndexes 创建查询和唯一性所需的索引
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		model.CollectionProducts: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "name", Value: 1}, {Key: "_id", Value: 1}}},
		},
		model.CollectionTerms: {
			{
				Keys:    bson.D{{Key: "taxonomy", Value: 1}, {Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "taxonomy", Value: 1}, {Key: "name_lower", Value: 1}}},
		},
		model.CollectionTransients: {
			// 过期文档由 MongoDB 自动删除，读取时仍会检查过期时间
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}

	for collection, models := range indexes {
		if err := r.storage.CreateIndexes(ctx, collection, models); err != nil {
			return err
		}
	}
	return nil
}

// ---- options ----

type optionDoc struct {
	Name  string `bson:"_id"`
	Value string `bson:"value"`
}

// GetOption 获取配置项
func (r *MongoRepository) GetOption(ctx context.Context, name string) (string, bool, error) {
	var doc optionDoc
	ok, err := r.storage.FindOne(ctx, model.CollectionOptions, bson.M{"_id": name}, &doc)
	if err != nil {
		return "", false, fmt.Errorf("failed to get option %s: %w", name, err)
	}
	return doc.Value, ok, nil
}

// SetOption 保存配置项
func (r *MongoRepository) SetOption(ctx context.Context, name, value string) error {
	update := bson.M{"$set": bson.M{"value": value}}
	if _, err := r.storage.UpsertOne(ctx, model.CollectionOptions, bson.M{"_id": name}, update); err != nil {
		return fmt.Errorf("failed to set option %s: %w", name, err)
	}
	return nil
}

// DeleteOption 删除配置项
func (r *MongoRepository) DeleteOption(ctx context.Context, name string) error {
	return r.storage.DeleteOne(ctx, model.CollectionOptions, bson.M{"_id": name})
}

// ---- transients ----

type transientDoc struct {
	Name      string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// GetTransient 读取未过期的 transient
func (r *MongoRepository) GetTransient(ctx context.Context, name string, dest any) (bool, error) {
	var doc transientDoc
	ok, err := r.storage.FindOne(ctx, model.CollectionTransients, bson.M{"_id": name}, &doc)
	if err != nil {
		return false, fmt.Errorf("failed to get transient %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}

	// TTL 索引的清理有延迟，这里按当前时间判断
	if doc.ExpiresAt != nil && r.now().After(*doc.ExpiresAt) {
		if err := r.DeleteTransient(ctx, name); err != nil {
			r.logger.Warn("failed to delete expired transient", zap.String("name", name), zap.Error(err))
		}
		return false, nil
	}

	if err := json.Unmarshal([]byte(doc.Value), dest); err != nil {
		return false, fmt.Errorf("failed to decode transient %s: %w", name, err)
	}
	return true, nil
}

// SetTransient 保存 transient，ttl 为 0 表示不过期
func (r *MongoRepository) SetTransient(ctx context.Context, name string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode transient %s: %w", name, err)
	}

	update := bson.M{"$set": bson.M{"value": string(data)}}
	if ttl > 0 {
		update["$set"].(bson.M)["expires_at"] = r.now().Add(ttl).UTC()
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}

	if _, err := r.storage.UpsertOne(ctx, model.CollectionTransients, bson.M{"_id": name}, update); err != nil {
		return fmt.Errorf("failed to set transient %s: %w", name, err)
	}
	return nil
}

// DeleteTransient 删除 transient
func (r *MongoRepository) DeleteTransient(ctx context.Context, name string) error {
	return r.storage.DeleteOne(ctx, model.CollectionTransients, bson.M{"_id": name})
}

// SweepExpired 删除已过期的 transient
func (r *MongoRepository) SweepExpired(ctx context.Context) (int64, error) {
	n, err := r.storage.DeleteMany(ctx, model.CollectionTransients, bson.M{
		"expires_at": bson.M{"$lt": r.now().UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep transients: %w", err)
	}
	return n, nil
}

// ---- products ----

// UpsertProduct 新增或更新产品基础字段，保留元数据、词条和属性
func (r *MongoRepository) UpsertProduct(ctx context.Context, p model.Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("invalid product id %d", p.ID)
	}
	if p.Status == "" {
		p.Status = model.ProductStatusPublish
	}

	now := r.now()
	update := bson.M{
		"$set": bson.M{
			"name":           p.Name,
			"description":    p.Description,
			"price":          p.Price,
			"status":         p.Status,
			"featured_image": p.FeaturedImage,
			"gallery":        p.Gallery,
			"updated_at":     now,
		},
		"$setOnInsert": bson.M{
			"meta":       bson.M{},
			"terms":      bson.M{},
			"attributes": bson.A{},
		},
	}

	if _, err := r.storage.UpsertOne(ctx, model.CollectionProducts, bson.M{"_id": p.ID}, update); err != nil {
		return fmt.Errorf("failed to save product %d: %w", p.ID, err)
	}
	return nil
}

// GetProduct 获取产品
func (r *MongoRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	opts := options.FindOne().SetProjection(bson.M{"meta": 0, "terms": 0, "attributes": 0})
	ok, err := r.storage.FindOne(ctx, model.CollectionProducts, bson.M{"_id": id}, &p, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

type listingDoc struct {
	ID   int64  `bson:"_id"`
	Name string `bson:"name"`
	Meta struct {
		AnalyzedAt     string   `bson:"_taxoai_analyzed_at"`
		Confidence     *float64 `bson:"_taxoai_confidence"`
		GoogleCategory string   `bson:"_taxoai_google_category"`
	} `bson:"meta"`
}

// ListProducts 已发布产品列表，按名称升序
func (r *MongoRepository) ListProducts(ctx context.Context, q model.ProductQuery) ([]model.ProductListing, int64, error) {
	filter := bson.M{"status": model.ProductStatusPublish}
	switch q.Filter {
	case model.ProductFilterUnanalyzed:
		filter[metaField(model.MetaAnalyzedAt)] = bson.M{"$exists": false}
	case model.ProductFilterLowConfidence:
		filter[metaField(model.MetaConfidence)] = bson.M{"$lt": q.Threshold}
	}

	total, err := r.storage.CountDocuments(ctx, model.CollectionProducts, filter)
	if err != nil {
		return nil, 0, err
	}

	projection := bson.M{"name": 1}
	for _, key := range []string{model.MetaAnalyzedAt, model.MetaConfidence, model.MetaGoogleCategory} {
		projection[metaField(key)] = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(q.Offset)).
		SetProjection(projection)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := r.storage.FindDocuments(ctx, model.CollectionProducts, filter, opts)
	if err != nil {
		r.logger.Error("failed to list products", zap.String("filter", q.Filter), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []listingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode products: %w", err)
	}

	listings := make([]model.ProductListing, 0, len(docs))
	for _, d := range docs {
		listings = append(listings, model.ProductListing{
			ID:             d.ID,
			Name:           d.Name,
			AnalyzedAt:     d.Meta.AnalyzedAt,
			Confidence:     d.Meta.Confidence,
			GoogleCategory: d.Meta.GoogleCategory,
		})
	}
	return listings, total, nil
}

// UpdateProduct 更新标题和描述
func (r *MongoRepository) UpdateProduct(ctx context.Context, id int64, update model.ProductUpdate) error {
	set := bson.M{"updated_at": r.now()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	return r.updateProduct(ctx, id, bson.M{"$set": set})
}

func (r *MongoRepository) updateProduct(ctx context.Context, id int64, update bson.M) error {
	result, err := r.storage.UpdateOne(ctx, model.CollectionProducts, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update product %d: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- meta ----

// GetMeta 读取元数据
func (r *MongoRepository) GetMeta(ctx context.Context, id int64, key string, dest any) (bool, error) {
	var doc bson.Raw
	opts := options.FindOne().SetProjection(bson.M{metaField(key): 1})
	ok, err := r.storage.FindOne(ctx, model.CollectionProducts, bson.M{"_id": id}, &doc, opts)
	if err != nil {
		return false, fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	if !ok {
		return false, store.ErrNotFound
	}

	raw, err := doc.LookupErr("meta", key)
	if err != nil {
		return false, nil
	}
	if err := database.FromDocumentValue(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode meta %s: %w", key, err)
	}
	return true, nil
}

// SetMeta 写入元数据，值以嵌套文档保存
func (r *MongoRepository) SetMeta(ctx context.Context, id int64, key string, value any) error {
	doc, err := database.ToDocumentValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode meta %s: %w", key, err)
	}
	return r.updateProduct(ctx, id, bson.M{"$set": bson.M{metaField(key): doc}})
}

// DeleteMeta 删除元数据
func (r *MongoRepository) DeleteMeta(ctx context.Context, id int64, key string) error {
	return r.updateProduct(ctx, id, bson.M{"$unset": bson.M{metaField(key): ""}})
}

func metaField(key string) string {
	return "meta." + key
}

// ---- terms ----

type termDoc struct {
	Taxonomy  string `bson:"taxonomy"`
	Name      string `bson:"name"`
	NameLower string `bson:"name_lower"`
	Slug      string `bson:"slug"`
}

func (d termDoc) term() *model.Term {
	return &model.Term{Taxonomy: d.Taxonomy, Name: d.Name, Slug: d.Slug}
}

// FindOrCreateTerm 先按名称再按 slug 查找，都不存在时创建
func (r *MongoRepository) FindOrCreateTerm(ctx context.Context, taxonomy, name string) (*model.Term, error) {
	name = strings.TrimSpace(name)
	slug := sanitize.Slug(name)
	if name == "" || slug == "" {
		return nil, fmt.Errorf("invalid term name %q", name)
	}

	var doc termDoc
	for _, filter := range []bson.M{
		{"taxonomy": taxonomy, "name_lower": strings.ToLower(name)},
		{"taxonomy": taxonomy, "slug": slug},
	} {
		ok, err := r.storage.FindOne(ctx, model.CollectionTerms, filter, &doc)
		if err != nil {
			return nil, fmt.Errorf("failed to find term %q: %w", name, err)
		}
		if ok {
			return doc.term(), nil
		}
	}

	doc = termDoc{Taxonomy: taxonomy, Name: name, NameLower: strings.ToLower(name), Slug: slug}
	if _, err := r.storage.GetCollection(model.CollectionTerms).InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("failed to create term %q: %w", name, err)
		}
		// 并发创建，读取已存在的词条
		ok, err := r.storage.FindOne(ctx, model.CollectionTerms, bson.M{"taxonomy": taxonomy, "slug": slug}, &doc)
		if err != nil || !ok {
			return nil, fmt.Errorf("failed to resolve term %q after conflict: %w", name, err)
		}
	}

	r.logger.Debug("term created", zap.String("taxonomy", taxonomy), zap.String("slug", slug))
	return doc.term(), nil
}

// SetObjectTerms 设置产品在某分类法下的词条
func (r *MongoRepository) SetObjectTerms(ctx context.Context, id int64, taxonomy string, slugs []string, appendTerms bool) error {
	unique := dedupe(slugs)
	if len(unique) > 0 {
		n, err := r.storage.CountDocuments(ctx, model.CollectionTerms, bson.M{
			"taxonomy": taxonomy,
			"slug":     bson.M{"$in": unique},
		})
		if err != nil {
			return err
		}
		if int(n) != len(unique) {
			return fmt.Errorf("terms %s/%v: %w", taxonomy, unique, store.ErrNotFound)
		}
	}

	field := "terms." + taxonomy
	if appendTerms {
		return r.updateProduct(ctx, id, bson.M{"$addToSet": bson.M{field: bson.M{"$each": unique}}})
	}
	return r.updateProduct(ctx, id, bson.M{"$set": bson.M{field: unique}})
}

// ObjectTerms 产品在某分类法下的词条，按分配顺序
func (r *MongoRepository) ObjectTerms(ctx context.Context, id int64, taxonomy string) ([]model.Term, error) {
	var doc struct {
		Terms map[string][]string `bson:"terms"`
	}
	opts := options.FindOne().SetProjection(bson.M{"terms." + taxonomy: 1})
	ok, err := r.storage.FindOne(ctx, model.CollectionProducts, bson.M{"_id": id}, &doc, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	slugs := doc.Terms[taxonomy]
	if len(slugs) == 0 {
		return nil, nil
	}

	cursor, err := r.storage.FindDocuments(ctx, model.CollectionTerms, bson.M{
		"taxonomy": taxonomy,
		"slug":     bson.M{"$in": slugs},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []termDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode terms: %w", err)
	}

	bySlug := make(map[string]termDoc, len(docs))
	for _, d := range docs {
		bySlug[d.Slug] = d
	}
	out := make([]model.Term, 0, len(slugs))
	for _, slug := range slugs {
		if d, ok := bySlug[slug]; ok {
			out = append(out, *d.term())
		}
	}
	return out, nil
}

// ---- attributes ----

// EnsureAttributeTaxonomy 确保全局属性存在，返回是否新建
func (r *MongoRepository) EnsureAttributeTaxonomy(ctx context.Context, attr model.AttributeTaxonomy) (bool, error) {
	update := bson.M{
		"$setOnInsert": bson.M{
			"name":     attr.Name,
			"type":     attr.Type,
			"order_by": attr.OrderBy,
		},
	}
	result, err := r.storage.UpsertOne(ctx, model.CollectionAttributeTaxonomies, bson.M{"_id": attr.Slug}, update)
	if err != nil {
		return false, fmt.Errorf("failed to ensure attribute %s: %w", attr.Slug, err)
	}
	return result.UpsertedCount > 0, nil
}

// Attributes 产品的属性行
func (r *MongoRepository) Attributes(ctx context.Context, id int64) ([]model.ProductAttribute, error) {
	var doc struct {
		Attributes []model.ProductAttribute `bson:"attributes"`
	}
	opts := options.FindOne().SetProjection(bson.M{"attributes": 1})
	ok, err := r.storage.FindOne(ctx, model.CollectionProducts, bson.M{"_id": id}, &doc, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Attributes, nil
}

// SetAttributes 替换产品的全部属性行
func (r *MongoRepository) SetAttributes(ctx context.Context, id int64, attrs []model.ProductAttribute) error {
	if attrs == nil {
		attrs = []model.ProductAttribute{}
	}
	return r.updateProduct(ctx, id, bson.M{"$set": bson.M{"attributes": attrs}})
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
