package notify

import (
	"context"
	"log/slog"

	"cartsentry/internal/pkg/dedup"
)

// DedupGateway 在转发给下游网关之前按 DedupeKey 做窗口去重。
type DedupGateway struct {
	next   Gateway
	d      *dedup.Deduplicator
	logger *slog.Logger
}

// WithDedup 包装网关，同一 DedupeKey 在窗口期内只投递一次。
func WithDedup(next Gateway, d *dedup.Deduplicator, logger *slog.Logger) *DedupGateway {
	return &DedupGateway{next: next, d: d, logger: logger}
}

// Deliver 先查去重窗口再转发。去重查询失败时放行（宁可重复，不可丢失）。
func (g *DedupGateway) Deliver(ctx context.Context, alert Alert) error {
	seen, err := g.d.Seen(ctx, alert.DedupeKey)
	if err != nil {
		g.logger.Warn("alert dedup probe failed, delivering anyway",
			slog.String("dedupe_key", alert.DedupeKey),
			slog.String("error", err.Error()))
	} else if seen {
		g.logger.Debug("alert suppressed by dedup window",
			slog.String("dedupe_key", alert.DedupeKey),
			slog.String("kind", alert.Kind))
		return nil
	}
	return g.next.Deliver(ctx, alert)
}
