package domain

import "errors"

var (
	// ErrNotFound 目标记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrNotResolvable 记录尚无内部对应订单（PENDING），不可人工核销
	ErrNotResolvable = errors.New("mismatch has no counterpart yet and cannot be resolved")
	// ErrInvalidPayload 批次内单条记录缺少必填字段
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidSource 不受支持的聚合平台来源
	ErrInvalidSource = errors.New("unsupported aggregator source")
)
