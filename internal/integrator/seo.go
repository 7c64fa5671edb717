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

// SEOTarget SEO 元数据的写入目标
type SEOTarget string

// 支持的 SEO 目标
const (
	SEOTargetYoast    SEOTarget = "yoast"
	SEOTargetRankMath SEOTarget = "rankmath"
	SEOTargetFallback SEOTarget = "fallback"
)

// seoKeys 某个目标使用的元数据键，空字符串表示不写入
type seoKeys struct {
	title        string
	description  string
	focusKeyword string
}

var seoTargetKeys = map[SEOTarget]seoKeys{
	SEOTargetYoast: {
		title:        "_yoast_wpseo_title",
		description:  "_yoast_wpseo_metadesc",
		focusKeyword: "_yoast_wpseo_focuskw",
	},
	SEOTargetRankMath: {
		title:        "rank_math_title",
		description:  "rank_math_description",
		focusKeyword: "rank_math_focus_keyword",
	},
	SEOTargetFallback: {
		title:       "_taxoai_seo_title",
		description: "_taxoai_seo_meta_description",
	},
}

// ParseSEOTarget 解析配置中的 SEO 目标，空值为 fallback
func ParseSEOTarget(name string) (SEOTarget, error) {
	target := SEOTarget(strings.ToLower(strings.TrimSpace(name)))
	if target == "" {
		return SEOTargetFallback, nil
	}
	if _, ok := seoTargetKeys[target]; !ok {
		return "", fmt.Errorf("unknown SEO target %q", name)
	}
	return target, nil
}

// SEOSettings 是否覆盖产品标题和描述
type SEOSettings struct {
	UpdateTitle       bool
	UpdateDescription bool
}

// SEOIntegrator 把 SEO 结果写回产品
type SEOIntegrator struct {
	products store.ProductStore
	target   SEOTarget
	keys     seoKeys
	logger   *zap.Logger
}

// NewSEOIntegrator 创建 SEO 集成器，目标在创建时确定
func NewSEOIntegrator(products store.ProductStore, target SEOTarget, logger *zap.Logger) *SEOIntegrator {
	keys, ok := seoTargetKeys[target]
	if !ok {
		target = SEOTargetFallback
		keys = seoTargetKeys[SEOTargetFallback]
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SEOIntegrator{
		products: products,
		target:   target,
		keys:     keys,
		logger:   logger,
	}
}

// Target 当前使用的 SEO 目标
func (s *SEOIntegrator) Target() SEOTarget {
	return s.target
}

// ApplySEO 写入 SEO 元数据、可选的标题/描述、标签和关键词
func (s *SEOIntegrator) ApplySEO(ctx context.Context, productID int64, seo *model.SEOData, settings SEOSettings) error {
	if seo == nil {
		return nil
	}

	title := sanitize.TextField(seo.MetaTitle)
	description := sanitize.TextField(seo.MetaDescription)
	focus := sanitize.TextField(seo.FocusKeyword())

	for key, value := range map[string]string{
		s.keys.title:        title,
		s.keys.description:  description,
		s.keys.focusKeyword: focus,
	} {
		if key == "" || value == "" {
			continue
		}
		if err := s.products.SetMeta(ctx, productID, key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	var update model.ProductUpdate
	if settings.UpdateTitle {
		if v := sanitize.TextField(seo.OptimizedTitle); v != "" {
			update.Name = &v
		}
	}
	if settings.UpdateDescription {
		if v := sanitize.PostHTML(seo.OptimizedDescription); v != "" {
			update.Description = &v
		}
	}
	if update.Name != nil || update.Description != nil {
		if err := s.products.UpdateProduct(ctx, productID, update); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
	}

	if err := s.appendTags(ctx, productID, seo.Tags); err != nil {
		return err
	}

	if len(seo.Keywords) > 0 {
		if err := s.products.SetMeta(ctx, productID, model.MetaKeywords, seo.Keywords); err != nil {
			return fmt.Errorf("failed to set keywords: %w", err)
		}
	}

	s.logger.Debug("SEO data applied",
		zap.Int64("product_id", productID),
		zap.String("target", string(s.target)),
		zap.Int("tags", len(seo.Tags)),
		zap.Int("keywords", len(seo.Keywords)),
	)
	return nil
}

func (s *SEOIntegrator) appendTags(ctx context.Context, productID int64, tags []string) error {
	var slugs []string
	for _, tag := range tags {
		name := sanitize.TextField(tag)
		if name == "" {
			continue
		}
		term, err := s.products.FindOrCreateTerm(ctx, model.TaxonomyProductTag, name)
		if err != nil {
			s.logger.Warn("failed to create tag", zap.String("tag", name), zap.Error(err))
			continue
		}
		slugs = append(slugs, term.Slug)
	}
	if len(slugs) == 0 {
		return nil
	}
	if err := s.products.SetObjectTerms(ctx, productID, model.TaxonomyProductTag, slugs, true); err != nil {
		return fmt.Errorf("failed to append tags: %w", err)
	}
	return nil
}
