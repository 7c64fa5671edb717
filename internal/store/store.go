package store

import (
	"context"
	"errors"
	"time"

	"taxoai/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// OptionStore 持久化的字符串配置项
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
	DeleteOption(ctx context.Context, name string) error
}

// TransientStore 带过期时间的 JSON 值
// ttl 为 0 表示不过期
type TransientStore interface {
	GetTransient(ctx context.Context, name string, dest any) (bool, error)
	SetTransient(ctx context.Context, name string, value any, ttl time.Duration) error
	DeleteTransient(ctx context.Context, name string) error
}

// Sweeper 清理已过期的 transient
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ProductStore 产品、元数据、分类词条和属性
type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, q model.ProductQuery) ([]model.ProductListing, int64, error)
	UpdateProduct(ctx context.Context, id int64, update model.ProductUpdate) error

	// GetMeta 将元数据解码到 dest，不存在时返回 false
	GetMeta(ctx context.Context, id int64, key string, dest any) (bool, error)
	SetMeta(ctx context.Context, id int64, key string, value any) error
	DeleteMeta(ctx context.Context, id int64, key string) error

	// FindOrCreateTerm 先按名称再按 slug 查找，都不存在时创建
	FindOrCreateTerm(ctx context.Context, taxonomy, name string) (*model.Term, error)
	// SetObjectTerms 设置产品在某分类法下的词条（按 slug），appendTerms 为 false 时替换
	SetObjectTerms(ctx context.Context, id int64, taxonomy string, slugs []string, appendTerms bool) error
	ObjectTerms(ctx context.Context, id int64, taxonomy string) ([]model.Term, error)

	// EnsureAttributeTaxonomy 确保全局属性存在，返回是否新建
	EnsureAttributeTaxonomy(ctx context.Context, attr model.AttributeTaxonomy) (bool, error)
	Attributes(ctx context.Context, id int64) ([]model.ProductAttribute, error)
	SetAttributes(ctx context.Context, id int64, attrs []model.ProductAttribute) error
}
