// Package entitlement 暴露订阅状态（免费/高级）的读取接口。
//
// 批处理作业是否执行、轮询间隔取多长，都由它门控。
package entitlement

import "context"

// Tier 订阅层级。
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Source 定义订阅状态读取接口。
type Source interface {
	// Premium 报告当前是否持有高级订阅。
	Premium(ctx context.Context) bool
}

// Static 是由配置固定的订阅状态实现。
type Static struct {
	tier Tier
}

// NewStatic 按层级名创建静态实现，未知值按 free 处理。
func NewStatic(tier string) *Static {
	if Tier(tier) == TierPremium {
		return &Static{tier: TierPremium}
	}
	return &Static{tier: TierFree}
}

// Premium 实现 Source。
func (s *Static) Premium(ctx context.Context) bool {
	return s.tier == TierPremium
}
