// Package tracing 提供 correlation/causation 追踪上下文的传递与注入
package tracing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlation_id"
	contextKeyCausationID   contextKey = "causation_id"
)

// 事件元数据中的追踪键
const (
	MetadataCorrelationID = "correlation_id"
	MetadataCausationID   = "causation_id"
)

// WithCorrelationID 在 context 中设置 correlation_id
//
// Correlation ID 标识整个业务流程，从入口请求开始，
// 贯穿所有命令和事件。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCorrelationID, id)
}

// GetCorrelationID 从 context 中获取 correlation_id，不存在时返回空字符串
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

// WithCausationID 在 context 中设置 causation_id
//
// Causation ID 标识直接的因果关系，例如：
// - 触发命令的请求 ID
// - 触发事件的命令 ID
// - 触发下一个命令的事件 ID
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCausationID, id)
}

// GetCausationID 从 context 中获取 causation_id，不存在时返回空字符串
func GetCausationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyCausationID).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID 生成新的 correlation ID
func GenerateCorrelationID() string {
	return "cor-" + uuid.NewString()
}

// GenerateCausationID 生成新的 causation ID
func GenerateCausationID() string {
	return "cau-" + uuid.NewString()
}

// InjectTraceContext 将 context 中的追踪 ID 注入到 metadata
//
// 不覆盖 metadata 中已有的追踪键：事件可能携带发生时刻的因果信息。
func InjectTraceContext(ctx context.Context, metadata map[string]any) {
	if ctx == nil || metadata == nil {
		return
	}
	if id := GetCorrelationID(ctx); id != "" {
		if _, exists := metadata[MetadataCorrelationID]; !exists {
			metadata[MetadataCorrelationID] = id
		}
	}
	if id := GetCausationID(ctx); id != "" {
		if _, exists := metadata[MetadataCausationID]; !exists {
			metadata[MetadataCausationID] = id
		}
	}
}

// ExtractTraceContext 从 metadata 提取追踪 ID 注入到返回的 context 中
func ExtractTraceContext(ctx context.Context, metadata map[string]any) context.Context {
	if ctx == nil || metadata == nil {
		return ctx
	}
	if id, ok := metadata[MetadataCorrelationID].(string); ok && id != "" {
		ctx = WithCorrelationID(ctx, id)
	}
	if id, ok := metadata[MetadataCausationID].(string); ok && id != "" {
		ctx = WithCausationID(ctx, id)
	}
	return ctx
}
