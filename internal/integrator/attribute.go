package integrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taxoai/internal/model"
	"taxoai/internal/sanitize"
	"taxoai/internal/store"
)

// AttributeMapper 把 color/material/gender/style 映射到全局属性
type AttributeMapper struct {
	products store.ProductStore
	logger   *zap.Logger
}

// NewAttributeMapper 创建属性映射器
func NewAttributeMapper(products store.ProductStore, logger *zap.Logger) *AttributeMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttributeMapper{products: products, logger: logger}
}

// MapAttributes 按维度替换产品的属性词条，保留其他属性行
func (m *AttributeMapper) MapAttributes(ctx context.Context, productID int64, attrs *model.Attributes) error {
	if attrs == nil {
		return nil
	}

	rows, err := m.products.Attributes(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to load attributes: %w", err)
	}

	changed := false
	for _, dim := range attrs.Dimensions() {
		values := cleanValues(dim.Values)
		if len(values) == 0 {
			continue
		}

		taxonomy := model.AttributeTaxonomyPrefix + dim.Name
		created, err := m.products.EnsureAttributeTaxonomy(ctx, model.AttributeTaxonomy{
			Slug:    taxonomy,
			Name:    sanitize.UpperFirst(dim.Name),
			Type:    "select",
			OrderBy: "menu_order",
		})
		if err != nil {
			return fmt.Errorf("failed to ensure %s: %w", taxonomy, err)
		}
		if created {
			m.logger.Info("attribute taxonomy created", zap.String("taxonomy", taxonomy))
		}

		var names, slugs []string
		for _, v := range values {
			term, err := m.products.FindOrCreateTerm(ctx, taxonomy, v)
			if err != nil {
				m.logger.Warn("failed to create attribute term",
					zap.String("taxonomy", taxonomy),
					zap.String("value", v),
					zap.Error(err),
				)
				continue
			}
			names = append(names, term.Name)
			slugs = append(slugs, term.Slug)
		}
		if len(slugs) == 0 {
			continue
		}

		if err := m.products.SetObjectTerms(ctx, productID, taxonomy, slugs, false); err != nil {
			return fmt.Errorf("failed to set %s terms: %w", taxonomy, err)
		}

		rows = upsertAttribute(rows, model.ProductAttribute{
			Name:       taxonomy,
			Options:    names,
			Visible:    true,
			Variation:  false,
			IsTaxonomy: true,
		})
		changed = true
	}

	if !changed {
		return nil
	}
	if err := m.products.SetAttributes(ctx, productID, rows); err != nil {
		return fmt.Errorf("failed to save attributes: %w", err)
	}
	return nil
}

// upsertAttribute 替换同名属性行或追加到末尾，position 为当前行数
func upsertAttribute(rows []model.ProductAttribute, attr model.ProductAttribute) []model.ProductAttribute {
	for i := range rows {
		if rows[i].Name == attr.Name {
			attr.Position = len(rows)
			rows[i] = attr
			return rows
		}
	}
	attr.Position = len(rows)
	return append(rows, attr)
}

func cleanValues(values model.StringList) []string {
	var out []string
	for _, v := range values {
		if s := sanitize.TextField(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
