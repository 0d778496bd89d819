// Package store 提供按字符串键存取字节块的持久化存储抽象。
//
// 响应缓存和监控商品/提醒的落盘都建立在这个接口之上。
package store

import (
	"context"
	"errors"
)

// ErrNotFound 表示键不存在。
var ErrNotFound = errors.New("store: key not found")

// Store 定义键值存储接口。
//
// 键是普通 ASCII 字符串，值是不透明的字节块（通常为 JSON）。
type Store interface {
	// Get 返回键对应的值；键不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 写入键值，覆盖已有条目。单个条目的写入必须是原子的。
	Put(ctx context.Context, key string, value []byte) error

	// Delete 删除键；键不存在时不报错。
	Delete(ctx context.Context, key string) error

	// Keys 返回所有以 prefix 开头的键。
	Keys(ctx context.Context, prefix string) ([]string, error)
}
