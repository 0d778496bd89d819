package tracker

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"cartsentry/internal/model"

	"github.com/shopspring/decimal"
)

// QuoteSource 定义零售商报价来源的能力接口。
//
// 轮询循环只依赖这个接口；真实的零售商接入是未来的实现，
// 当前交付的是确定性可复现的模拟实现。
type QuoteSource interface {
	// Quotes 返回该商品在一组零售商处的当前报价。
	Quotes(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error)
}

// DefaultRetailers 模拟报价覆盖的零售商集合。
var DefaultRetailers = []string{"amazon", "walmart", "target", "bestbuy"}

// SimulatedSource 生成围绕商品基准价波动的随机报价。
//
// 基准价由商品名哈希决定，同一商品的报价在多次轮询间围绕同一基准波动，
// 因此降价/趋势逻辑在模拟数据上也能产生有意义的序列。
type SimulatedSource struct {
	retailers []string
	mu        sync.Mutex
	rng       *rand.Rand
	now       func() time.Time
}

// NewSimulatedSource 创建模拟报价源。seed 固定时序列可复现。
func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{
		retailers: DefaultRetailers,
		rng:       rand.New(rand.NewSource(seed)),
		now:       time.Now,
	}
}

// Quotes 实现 QuoteSource。
func (s *SimulatedSource) Quotes(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := basePriceFor(product.Name)
	observedAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	quotes := make([]model.PricePoint, 0, len(s.retailers))
	for _, retailer := range s.retailers {
		// 基准价 ±10% 波动
		price := base * (0.9 + 0.2*s.rng.Float64())
		point := model.PricePoint{
			RetailerID: retailer,
			Price:      roundMoney(price),
			InStock:    s.rng.Float64() < 0.9,
			ObservedAt: observedAt,
		}
		// 约三成报价收取运费
		if s.rng.Float64() < 0.3 {
			shipping := roundMoney(2 + 8*s.rng.Float64())
			point.ShippingCost = &shipping
		}
		quotes = append(quotes, point)
	}
	return quotes, nil
}

// basePriceFor 由商品名哈希出一个 [10, 210) 区间的稳定基准价。
func basePriceFor(name string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return 10 + float64(h.Sum32()%20000)/100
}

func roundMoney(v float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Round(v*100) / 100)
}
