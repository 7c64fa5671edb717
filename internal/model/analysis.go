package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// AnalysisPayload 发送给 TaxoAI 分析接口的请求体
type AnalysisPayload struct {
	Name          string   `json:"name"`                     // 产品名称
	Language      string   `json:"language"`                 // es, en, pt
	ProductID     string   `json:"product_id,omitempty"`     // 十进制字符串形式的产品 ID
	Description   string   `json:"description,omitempty"`    // 已去除 HTML 标签的描述
	Price         *float64 `json:"price,omitempty"`          // 未设置价格时为 nil
	ImageURLs     []string `json:"image_urls,omitempty"`     // 主图 + 图库
	AnalyzeImages bool     `json:"analyze_images,omitempty"` // 是否请求图片分析
}

// AnalysisResult TaxoAI 分析结果
// 所有部分都是可选的，缺失或格式错误的部分保持为 nil
type AnalysisResult struct {
	Classification   *Classification `json:"classification,omitempty"`
	SEO              *SEOData        `json:"seo,omitempty"`
	Attributes       *Attributes     `json:"attributes,omitempty"`
	ImageAnalysis    json.RawMessage `json:"image_analysis,omitempty"`
	ProcessingTimeMs *FlexInt64      `json:"processing_time_ms,omitempty"`
	Cached           *bool           `json:"cached,omitempty"`
}

// Confidence 返回 [0,1] 区间内的置信度，缺失时为 0
func (r *AnalysisResult) Confidence() float64 {
	if r == nil || r.Classification == nil || r.Classification.Confidence == nil {
		return 0
	}
	c := float64(*r.Classification.Confidence)
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Classification Google 产品分类结果
type Classification struct {
	GoogleCategory   *string    `json:"google_category,omitempty"`    // 形如 "Apparel & Accessories > Clothing > Shirts"
	GoogleCategoryID *FlexInt64 `json:"google_category_id,omitempty"` // Google 分类 ID
	Confidence       *FlexFloat `json:"confidence,omitempty"`         // 0..1
}

// CategoryPath 返回分类路径，缺失时为空字符串
func (c *Classification) CategoryPath() string {
	if c == nil || c.GoogleCategory == nil {
		return ""
	}
	return *c.GoogleCategory
}

// CategoryID 返回分类 ID，缺失时为 0
func (c *Classification) CategoryID() int64 {
	if c == nil || c.GoogleCategoryID == nil {
		return 0
	}
	return int64(*c.GoogleCategoryID)
}

// SEOData SEO 优化结果
type SEOData struct {
	MetaTitle            string     `json:"meta_title,omitempty"`
	MetaDescription      string     `json:"meta_description,omitempty"`
	OptimizedTitle       string     `json:"optimized_title,omitempty"`
	OptimizedDescription string     `json:"optimized_description,omitempty"`
	Keywords             []Keyword  `json:"keywords,omitempty"`
	Tags                 StringList `json:"tags,omitempty"`
}

// FocusKeyword 第一个关键词
func (s *SEOData) FocusKeyword() string {
	if s == nil || len(s.Keywords) == 0 {
		return ""
	}
	return s.Keywords[0].Keyword
}

// Keyword 关键词及其搜索量
type Keyword struct {
	Keyword string     `json:"keyword"`
	Volume  *FlexInt64 `json:"volume,omitempty"`
}

// UnmarshalJSON 兼容纯字符串或数字形式的关键词
func (k *Keyword) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		fields, err := objectFields(data)
		if err != nil {
			return err
		}
		out := Keyword{Keyword: looseString(fields["keyword"])}
		if raw, ok := fields["volume"]; ok && !isNull(raw) {
			var volume FlexInt64
			_ = volume.UnmarshalJSON(raw)
			out.Volume = &volume
		}
		*k = out
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case nil:
		return nil
	case []any:
		return errors.New("keyword: unexpected array")
	}
	*k = Keyword{Keyword: scalarString(v)}
	return nil
}

// Attributes 产品属性结果，每个维度可能是字符串或字符串数组
type Attributes struct {
	Color    StringList     `json:"color,omitempty"`
	Material StringList     `json:"material,omitempty"`
	Gender   StringList     `json:"gender,omitempty"`
	Style    StringList     `json:"style,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Dimensions 按固定顺序返回可映射的属性维度
func (a *Attributes) Dimensions() []AttributeDimension {
	if a == nil {
		return nil
	}
	return []AttributeDimension{
		{Name: "color", Values: a.Color},
		{Name: "material", Values: a.Material},
		{Name: "gender", Values: a.Gender},
		{Name: "style", Values: a.Style},
	}
}

// AttributeDimension 单个属性维度
type AttributeDimension struct {
	Name   string
	Values StringList
}

// StringList 接受 JSON 字符串或字符串数组
type StringList []string

// UnmarshalJSON 实现 json.Unmarshaler
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case '[':
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(StringList, 0, len(raw))
		for _, v := range raw {
			if s := scalarString(v); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if s := scalarString(v); s != "" {
			*l = StringList{s}
		} else {
			*l = nil
		}
		return nil
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// FlexInt64 接受 JSON 数字或数字字符串
type FlexInt64 int64

// UnmarshalJSON 实现 json.Unmarshaler
func (n *FlexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = FlexInt64(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// 无法解析的值按 0 处理
		*n = 0
		return nil
	}
	*n = FlexInt64(f)
	return nil
}

// FlexFloat 接受 JSON 数字或数字字符串
type FlexFloat float64

// UnmarshalJSON 实现 json.Unmarshaler
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}
