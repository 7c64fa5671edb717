package api

import (
	"fmt"
	"strconv"
	"strings"
)

// 分类搜索 limit 的默认值和上限
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// SearchParams 分类搜索参数
type SearchParams struct {
	Query string `json:"q"`
	Limit int    `json:"limit"` // 0 表示默认 10
}

// Validate 验证请求参数
func (p *SearchParams) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", p.Limit)
	}
	return nil
}

// EffectiveLimit 应用默认值并限制在 [1, MaxSearchLimit]
func (p *SearchParams) EffectiveLimit() int {
	switch {
	case p.Limit <= 0:
		return DefaultSearchLimit
	case p.Limit > MaxSearchLimit:
		return MaxSearchLimit
	}
	return p.Limit
}

// ToQueryParams 将 SearchParams 转换为查询参数字典
func (p *SearchParams) ToQueryParams() map[string]string {
	return map[string]string{
		"q":     strings.TrimSpace(p.Query),
		"limit": strconv.Itoa(p.EffectiveLimit()),
	}
}
