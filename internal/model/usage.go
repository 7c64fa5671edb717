package model

// TierFree 免费套餐
const TierFree = "free"

// UsageSnapshot 服务端返回的用量信息
type UsageSnapshot struct {
	Tier                  string    `json:"tier,omitempty"`                     // free, starter, pro ...
	ProductsUsedThisMonth FlexInt64 `json:"products_used_this_month,omitempty"` // 本月已分析产品数
	ProductsLimit         FlexInt64 `json:"products_limit,omitempty"`           // 本月上限
	PercentageUsed        FlexFloat `json:"percentage_used,omitempty"`          // 已用百分比
}

// EffectiveTier 缺失 tier 时按 free 处理
func (u *UsageSnapshot) EffectiveTier() string {
	if u == nil || u.Tier == "" {
		return TierFree
	}
	return u.Tier
}

// Used 本月已用次数
func (u *UsageSnapshot) Used() int64 {
	if u == nil {
		return 0
	}
	return int64(u.ProductsUsedThisMonth)
}
