package model

import (
	"math"
	"time"
)

// 产品状态
const (
	ProductStatusPublish = "publish"
	ProductStatusDraft   = "draft"
)

// 商品分类法
const (
	TaxonomyProductCategory = "product_cat"
	TaxonomyProductTag      = "product_tag"

	// AttributeTaxonomyPrefix 全局属性分类法前缀，如 pa_color
	AttributeTaxonomyPrefix = "pa_"
)

// 产品元数据键
const (
	MetaAnalysisResult   = "_taxoai_analysis_result"
	MetaAnalyzedAt       = "_taxoai_analyzed_at"
	MetaGoogleCategory   = "_taxoai_google_category"
	MetaGoogleCategoryID = "_taxoai_google_category_id"
	MetaConfidence       = "_taxoai_confidence"
	MetaKeywords         = "_taxoai_keywords"

	MetaProductGoogleCategory   = "_google_product_category"
	MetaProductGoogleCategoryID = "_google_product_category_id"
)

// AnalyzedAtLayout _taxoai_analyzed_at 的时间格式（UTC）
const AnalyzedAtLayout = "2006-01-02 15:04:05"

// CollectionNames 定义 MongoDB 集合名称
const (
	CollectionProducts            = "taxoai_products"
	CollectionTerms               = "taxoai_terms"
	CollectionAttributeTaxonomies = "taxoai_attribute_taxonomies"
	CollectionOptions             = "taxoai_options"
	CollectionTransients          = "taxoai_transients"
)

// Product 商店产品
type Product struct {
	ID            int64     `json:"id" bson:"_id"`                                            // 产品 ID
	Name          string    `json:"name" bson:"name"`                                         // 标题
	Description   string    `json:"description,omitempty" bson:"description,omitempty"`       // 可能包含 HTML
	Price         *float64  `json:"price,omitempty" bson:"price,omitempty"`                   // 未设置时为 nil
	Status        string    `json:"status" bson:"status"`                                     // publish, draft ...
	FeaturedImage string    `json:"featured_image,omitempty" bson:"featured_image,omitempty"` // 主图 URL
	Gallery       []string  `json:"gallery,omitempty" bson:"gallery,omitempty"`               // 图库 URL
	UpdatedAt     time.Time `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

// ImageURLs 主图在前，忽略空 URL
func (p *Product) ImageURLs() []string {
	var urls []string
	if p.FeaturedImage != "" {
		urls = append(urls, p.FeaturedImage)
	}
	for _, u := range p.Gallery {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ProductUpdate 产品字段更新，nil 表示不修改
type ProductUpdate struct {
	Name        *string
	Description *string
}

// Term 分类法中的词条
type Term struct {
	Taxonomy string `json:"taxonomy" bson:"taxonomy"`
	Name     string `json:"name" bson:"name"`
	Slug     string `json:"slug" bson:"slug"`
}

// AttributeTaxonomy 全局属性定义
type AttributeTaxonomy struct {
	Slug    string `json:"slug" bson:"_id"` // 如 pa_color
	Name    string `json:"name" bson:"name"`
	Type    string `json:"type" bson:"type"`
	OrderBy string `json:"order_by" bson:"order_by"`
}

// ProductAttribute 产品上的属性行
type ProductAttribute struct {
	Name       string   `json:"name" bson:"name"` // 分类法名，如 pa_color
	Options    []string `json:"options" bson:"options"`
	Position   int      `json:"position" bson:"position"`
	Visible    bool     `json:"visible" bson:"visible"`
	Variation  bool     `json:"variation" bson:"variation"`
	IsTaxonomy bool     `json:"is_taxonomy" bson:"is_taxonomy"`
}

// 产品列表过滤器
const (
	ProductFilterAll           = "all"
	ProductFilterUnanalyzed    = "unanalyzed"
	ProductFilterLowConfidence = "low-confidence"
)

// ProductQuery 产品列表查询（仅已发布产品，按名称升序）
type ProductQuery struct {
	Filter    string  // all, unanalyzed, low-confidence
	Threshold float64 // low-confidence 的阈值
	Offset    int
	Limit     int
}

// ProductListing 列表中的单个产品及其分析摘要
type ProductListing struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	AnalyzedAt     string   `json:"analyzed_at,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	GoogleCategory string   `json:"google_category,omitempty"`
}

// 分析状态
const (
	AnalysisStatusPending       = "pending"
	AnalysisStatusLowConfidence = "low_confidence"
	AnalysisStatusAnalyzed      = "analyzed"
)

// AnalysisStatus 根据分析时间和置信度得到状态
func AnalysisStatus(analyzedAt string, confidence *float64, threshold float64) string {
	switch {
	case analyzedAt == "":
		return AnalysisStatusPending
	case confidence != nil && *confidence < threshold:
		return AnalysisStatusLowConfidence
	default:
		return AnalysisStatusAnalyzed
	}
}

// ConfidenceClass high(>=0.8) / medium(>=0.5) / low
func ConfidenceClass(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// ConfidencePercent 四舍五入的百分比
func ConfidencePercent(confidence float64) int {
	return int(math.Round(confidence * 100))
}
