package integrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"taxoai/internal/model"
	"taxoai/internal/sanitize"
	"taxoai/internal/store"
)

// CategoryMapper 写入 Google 分类并可选地映射到商店分类
type CategoryMapper struct {
	products store.ProductStore
	autoMap  bool
	logger   *zap.Logger
}

// NewCategoryMapper 创建分类映射器
func NewCategoryMapper(products store.ProductStore, autoMap bool, logger *zap.Logger) *CategoryMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryMapper{products: products, autoMap: autoMap, logger: logger}
}

// Map 写入 _google_product_category(_id)，开启自动映射时把叶子分类追加到产品
func (m *CategoryMapper) Map(ctx context.Context, productID int64, path string, categoryID int64) error {
	path = sanitize.TextField(path)

	if path != "" {
		if err := m.products.SetMeta(ctx, productID, model.MetaProductGoogleCategory, path); err != nil {
			return fmt.Errorf("failed to set google category: %w", err)
		}
	}
	if categoryID > 0 {
		if err := m.products.SetMeta(ctx, productID, model.MetaProductGoogleCategoryID, categoryID); err != nil {
			return fmt.Errorf("failed to set google category id: %w", err)
		}
	}

	if !m.autoMap || path == "" {
		return nil
	}

	leaf := LeafCategory(path)
	if leaf == "" {
		return nil
	}

	term, err := m.products.FindOrCreateTerm(ctx, model.TaxonomyProductCategory, leaf)
	if err != nil {
		return fmt.Errorf("failed to resolve category %q: %w", leaf, err)
	}
	if err := m.products.SetObjectTerms(ctx, productID, model.TaxonomyProductCategory, []string{term.Slug}, true); err != nil {
		return fmt.Errorf("failed to assign category %q: %w", leaf, err)
	}

	m.logger.Debug("category mapped",
		zap.Int64("product_id", productID),
		zap.String("category", term.Name),
	)
	return nil
}

// LeafCategory 取 ">" 分隔路径的最后一段
func LeafCategory(path string) string {
	parts := strings.Split(path, ">")
	return strings.TrimSpace(parts[len(parts)-1])
}
