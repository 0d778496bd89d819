// Package notify 定义提醒网关的契约。
//
// 核心只负责组装完整的提醒载荷并交给网关；
// 本地投递、展示、系统通知权限都属于网关（外部协作方）的职责。
package notify

import "context"

// Alert 是交给网关的完整提醒载荷。
type Alert struct {
	Kind      string         // 提醒类型（target_met / significant_drop / ...）
	Title     string         // 标题
	Body      string         // 正文
	DedupeKey string         // 去重键：同一触发条件在窗口内只投递一次
	Payload   map[string]any // 附加数据，网关按需透传
}

// Gateway 定义提醒网关接口。
type Gateway interface {
	// Deliver 投递一条提醒。投递失败不得影响调用方的轮询循环。
	Deliver(ctx context.Context, alert Alert) error
}
