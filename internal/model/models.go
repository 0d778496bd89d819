package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TrackedProduct 表示一个用户开启了价格监控的商品。
//
// 价格历史是按观测时间追加的（append-only），轮询循环是唯一的写入者。
// 同一个商品 ID 只允许存在一个 TrackedProduct（创建时去重）。
type TrackedProduct struct {
	ID            uuid.UUID        `json:"id"`              // 商品唯一标识
	Name          string           `json:"name"`            // 商品名称
	Category      string           `json:"category"`        // 商品分类
	TargetPrice   *decimal.Decimal `json:"target_price"`    // 目标价格（nil 表示未设置）
	AddedAt       time.Time        `json:"added_at"`        // 加入监控的时间
	IsActive      bool             `json:"is_active"`       // 是否处于监控中（Paused 时为 false）
	LastCheckedAt *time.Time       `json:"last_checked_at"` // 上次轮询时间
	PriceHistory  []PricePoint     `json:"price_history"`   // 价格历史（按观测时间插入排序，永不重排）
}

// PricePoint 表示一次零售商报价观测，创建后不可变。
type PricePoint struct {
	RetailerID   string           `json:"retailer_id"`   // 零售商标识
	Price        decimal.Decimal  `json:"price"`         // 商品价格
	ShippingCost *decimal.Decimal `json:"shipping_cost"` // 运费（nil 表示包邮）
	InStock      bool             `json:"in_stock"`      // 是否有货
	ObservedAt   time.Time        `json:"observed_at"`   // 观测时间
}

// TotalPrice 返回含运费的总价（运费缺省按 0 计）。
func (p PricePoint) TotalPrice() decimal.Decimal {
	if p.ShippingCost == nil {
		return p.Price
	}
	return p.Price.Add(*p.ShippingCost)
}

// AlertKind 价格提醒类型。
type AlertKind string

const (
	AlertTargetMet       AlertKind = "target_met"       // 达到目标价格
	AlertSignificantDrop AlertKind = "significant_drop" // 显著降价
	AlertBackInStock     AlertKind = "back_in_stock"    // 重新有货
	AlertFlashSale       AlertKind = "flash_sale"       // 限时特卖
)

// PriceAlert 表示一条由轮询周期派生出的价格提醒。
//
// 除 IsRead 外创建后不再修改；由用户显式的 "clear read" 操作回收。
type PriceAlert struct {
	ID         uuid.UUID  `json:"id"`
	Kind       AlertKind  `json:"kind"`
	ProductID  uuid.UUID  `json:"product_id"`
	Triggering PricePoint `json:"triggering_price_point"` // 触发本条提醒的报价
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	IsRead     bool       `json:"is_read"`
}

// Trend 价格趋势分类。
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// DealRecord 表示一条正在进行的促销信息。
//
// 生命周期归（范围外的）列表管理层所有，这里只定义流入提示词与批处理的形状。
type DealRecord struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	Retailer      string          `json:"retailer"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	DealPrice     decimal.Decimal `json:"deal_price"`
	Category      string          `json:"category"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	IsActive      bool            `json:"is_active"`
}

// BudgetEnvelope 表示一个预算分配单元。
type BudgetEnvelope struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Limit    decimal.Decimal `json:"limit"`
	Spent    decimal.Decimal `json:"spent"`
	Period   string          `json:"period"` // weekly / monthly
	Category string          `json:"category"`
}

// ShoppingListItem 表示购物清单中的一项。
type ShoppingListItem struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Quantity  int              `json:"quantity"`
	EstPrice  *decimal.Decimal `json:"est_price"`
	IsChecked bool             `json:"is_checked"`
	AddedAt   time.Time        `json:"added_at"`
}

// InventoryItem 表示家庭库存中的一项。
type InventoryItem struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Category  string     `json:"category"`
	Quantity  int        `json:"quantity"`
	ExpiresAt *time.Time `json:"expires_at"`
	AddedAt   time.Time  `json:"added_at"`
}

// PurchaseRecord 表示一条历史购买记录，用于消费模式分析。
type PurchaseRecord struct {
	ID          uuid.UUID       `json:"id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Retailer    string          `json:"retailer"`
	PurchasedAt time.Time       `json:"purchased_at"`
}
