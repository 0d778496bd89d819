package intel

import "github.com/shopspring/decimal"

// PricePrediction 单个商品的价格预测结果。
type PricePrediction struct {
	Index          *int            `json:"index,omitempty"` // 批量预测时的源商品下标
	PredictedPrice decimal.Decimal `json:"predicted_price"`
	Direction      string          `json:"direction"`  // increasing / decreasing / stable
	Confidence     float64         `json:"confidence"` // 0.0 - 1.0
	BestTimeToBuy  string          `json:"best_time_to_buy"`
	Reasoning      string          `json:"reasoning"`
}

// DealEvaluation 促销评估结果。
type DealEvaluation struct {
	Score     float64 `json:"score"` // 0 - 10
	Verdict   string  `json:"verdict"`
	IsWorthIt bool    `json:"is_worth_it"`
	Reasoning string  `json:"reasoning"`
}

// PatternAnalysis 消费模式聚合分析结果。
type PatternAnalysis struct {
	TopCategories   []string        `json:"top_categories"`
	WeeklySpend     decimal.Decimal `json:"weekly_spend"`
	Insights        []string        `json:"insights"`
	StockUpSoon     []string        `json:"stock_up_soon"`
	SavingPotential decimal.Decimal `json:"saving_potential"`
}

// BudgetAllocation 预算优化建议中的单项分配。
type BudgetAllocation struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// BudgetPlan 预算优化结果。
type BudgetPlan struct {
	Allocations []BudgetAllocation `json:"allocations"`
	Advice      []string           `json:"advice"`
}

// Alternative 替代商品建议。
type Alternative struct {
	Name           string          `json:"name"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
	Reason         string          `json:"reason"`
}

// Recommendation 购物推荐。
type Recommendation struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}
