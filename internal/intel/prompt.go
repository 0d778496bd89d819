package intel

import (
	"fmt"
	"strings"

	"cartsentry/internal/model"
)

// 各功能的提示词模板。统一要求模型只输出 JSON，
// 但解析侧不依赖模型守约（见 ExtractJSON）。

func renderPredictPrompt(p model.TrackedProduct) string {
	var b strings.Builder
	b.WriteString("You are a price analyst for consumer products.\n")
	fmt.Fprintf(&b, "Product: %s (category: %s)\n", p.Name, p.Category)
	if n := len(p.PriceHistory); n > 0 {
		b.WriteString("Recent observed total prices, oldest first:\n")
		for _, pt := range tailPoints(p.PriceHistory, 10) {
			fmt.Fprintf(&b, "- %s at %s on %s\n",
				pt.TotalPrice().StringFixed(2), pt.RetailerID, pt.ObservedAt.Format("2006-01-02"))
		}
	} else {
		b.WriteString("No price history is available yet.\n")
	}
	b.WriteString("\nPredict the likely price over the next 30 days.\n")
	b.WriteString("Respond with only a JSON object: ")
	b.WriteString(`{"predicted_price": number, "direction": "increasing"|"decreasing"|"stable", "confidence": number, "best_time_to_buy": string, "reasoning": string}`)
	return b.String()
}

func renderBatchPredictPrompt(products []model.TrackedProduct) string {
	var b strings.Builder
	b.WriteString("You are a price analyst for consumer products.\n")
	b.WriteString("Predict the likely 30-day price for each product below.\n\n")
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s (category: %s)", i, p.Name, p.Category)
		if last := lastPoint(p.PriceHistory); last != nil {
			fmt.Fprintf(&b, ", last seen at %s", last.TotalPrice().StringFixed(2))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with only a JSON array, one object per product, each including the ")
	b.WriteString(`"index" of its product from the list above: `)
	b.WriteString(`[{"index": number, "predicted_price": number, "direction": string, "confidence": number, "best_time_to_buy": string, "reasoning": string}]`)
	return b.String()
}

func renderDealPrompt(deal model.DealRecord) string {
	var b strings.Builder
	b.WriteString("Evaluate this shopping deal.\n")
	fmt.Fprintf(&b, "Deal: %s at %s (category: %s)\n", deal.Title, deal.Retailer, deal.Category)
	fmt.Fprintf(&b, "Original price: %s, deal price: %s\n",
		deal.OriginalPrice.StringFixed(2), deal.DealPrice.StringFixed(2))
	if deal.ExpiresAt != nil {
		fmt.Fprintf(&b, "Expires: %s\n", deal.ExpiresAt.Format("2006-01-02"))
	}
	b.WriteString("\nRespond with only a JSON object: ")
	b.WriteString(`{"score": number 0-10, "verdict": string, "is_worth_it": boolean, "reasoning": string}`)
	return b.String()
}

func renderPatternPrompt(purchases []model.PurchaseRecord, inventory []model.InventoryItem) string {
	var b strings.Builder
	b.WriteString("Analyze this household's shopping pattern.\n\nRecent purchases:\n")
	if len(purchases) == 0 {
		b.WriteString("(none)\n")
	}
	for _, p := range purchases {
		fmt.Fprintf(&b, "- %s (%s) %s at %s on %s\n",
			p.ProductName, p.Category, p.Price.StringFixed(2), p.Retailer, p.PurchasedAt.Format("2006-01-02"))
	}
	b.WriteString("\nCurrent inventory:\n")
	if len(inventory) == 0 {
		b.WriteString("(none)\n")
	}
	for _, it := range inventory {
		fmt.Fprintf(&b, "- %s (%s) x%d\n", it.Name, it.Category, it.Quantity)
	}
	b.WriteString("\nRespond with only a JSON object: ")
	b.WriteString(`{"top_categories": [string], "weekly_spend": number, "insights": [string], "stock_up_soon": [string], "saving_potential": number}`)
	return b.String()
}

func renderBudgetPrompt(envelopes []model.BudgetEnvelope, list []model.ShoppingListItem) string {
	var b strings.Builder
	b.WriteString("Optimize this shopping budget.\n\nBudget envelopes:\n")
	for _, e := range envelopes {
		fmt.Fprintf(&b, "- %s (%s, %s): limit %s, spent %s\n",
			e.Name, e.Category, e.Period, e.Limit.StringFixed(2), e.Spent.StringFixed(2))
	}
	b.WriteString("\nPlanned shopping list:\n")
	for _, it := range list {
		fmt.Fprintf(&b, "- %s (%s) x%d", it.Name, it.Category, it.Quantity)
		if it.EstPrice != nil {
			fmt.Fprintf(&b, ", est. %s", it.EstPrice.StringFixed(2))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with only a JSON object: ")
	b.WriteString(`{"allocations": [{"category": string, "amount": number}], "advice": [string]}`)
	return b.String()
}

func renderAlternativesPrompt(item model.ShoppingListItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest up to 3 cheaper or better alternatives for: %s (category: %s).\n",
		item.Name, item.Category)
	b.WriteString("Respond with only a JSON array: ")
	b.WriteString(`[{"name": string, "estimated_price": number, "reason": string}]`)
	return b.String()
}

func renderRecommendationsPrompt(purchases []model.PurchaseRecord) string {
	var b strings.Builder
	b.WriteString("Based on these recent purchases, recommend up to 5 products the shopper is likely to need soon.\n")
	for _, p := range purchases {
		fmt.Fprintf(&b, "- %s (%s) on %s\n", p.ProductName, p.Category, p.PurchasedAt.Format("2006-01-02"))
	}
	b.WriteString("\nRespond with only a JSON array: ")
	b.WriteString(`[{"name": string, "category": string, "reason": string}]`)
	return b.String()
}

func tailPoints(points []model.PricePoint, n int) []model.PricePoint {
	if len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

func lastPoint(points []model.PricePoint) *model.PricePoint {
	if len(points) == 0 {
		return nil
	}
	return &points[len(points)-1]
}
