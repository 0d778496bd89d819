package intel

import (
	"errors"
	"fmt"
)

// 调用方可见的错误分类。
//
// 所有错误对批处理/轮询循环都是非致命的：记录日志并跳过该单元即可。
var (
	// ErrMissingCredential API 凭证未配置。
	ErrMissingCredential = errors.New("intel: missing api credential")
	// ErrInvalidEndpoint 端点 URL 不合法。
	ErrInvalidEndpoint = errors.New("intel: invalid endpoint url")
	// ErrInvalidEnvelope 响应体结构不符合预期（无 content 块）。
	ErrInvalidEnvelope = errors.New("intel: invalid response envelope")
)

// RemoteError 表示端点返回了非 200 状态码。
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("intel: remote error (HTTP %d): %s", e.Status, e.Body)
}

// ParseError 表示模型返回的文本无法解析为该功能的结果类型。
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("intel: parse %s: %v", e.Detail, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EncodingError 表示请求体序列化失败。
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("intel: encode request: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// TransportError 表示网络层失败（超时、连接拒绝等）。
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("intel: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
