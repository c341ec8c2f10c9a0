package store

import (
	"context"

	"shiji/eventing"
	"shiji/tracing"
)

// TracingEventStore 带追踪的事件存储装饰器
//
// 追加时自动把 context 中的 correlation_id 和 causation_id 注入
// 事件元数据；事件自带的追踪键不覆盖。读取路径透传。
//
// 使用示例：
//
//	es := store.New(entries, cfg)
//	traced := store.NewTracingEventStore(es)
//
//	ctx := tracing.WithCorrelationID(ctx, "cor-123")
//	ctx = tracing.WithCausationID(ctx, "cmd-456")
//	err := traced.AppendEvents(ctx, events)
//	// 所有事件的 Metadata["correlation_id"] = "cor-123"
//	// 所有事件的 Metadata["causation_id"] = "cmd-456"
type TracingEventStore struct {
	inner IEventStore
}

// NewTracingEventStore 创建带追踪的事件存储
func NewTracingEventStore(inner IEventStore) *TracingEventStore {
	return &TracingEventStore{inner: inner}
}

// AppendEvents 注入追踪 ID 后追加
func (s *TracingEventStore) AppendEvents(ctx context.Context, events []*eventing.DomainEvent) error {
	for _, evt := range events {
		if evt.Metadata == nil {
			evt.Metadata = make(map[string]any)
		}
		tracing.InjectTraceContext(ctx, evt.Metadata)
	}
	return s.inner.AppendEvents(ctx, events)
}

// AppendSnapshot 注入追踪 ID 后写入快照
func (s *TracingEventStore) AppendSnapshot(ctx context.Context, snapshot *eventing.DomainEvent) error {
	if snapshot.Metadata == nil {
		snapshot.Metadata = make(map[string]any)
	}
	tracing.InjectTraceContext(ctx, snapshot.Metadata)
	return s.inner.AppendSnapshot(ctx, snapshot)
}

// ReadEvents 透传
func (s *TracingEventStore) ReadEvents(ctx context.Context, aggregateID string) (*DomainEventStream, error) {
	return s.inner.ReadEvents(ctx, aggregateID)
}

// ReadEventsRange 透传
func (s *TracingEventStore) ReadEventsRange(ctx context.Context, aggregateID string, firstSequence, lastSequence uint64) (*DomainEventStream, error) {
	return s.inner.ReadEventsRange(ctx, aggregateID, firstSequence, lastSequence)
}

// VisitEvents 透传
func (s *TracingEventStore) VisitEvents(ctx context.Context, visitor EventVisitor) error {
	return s.inner.VisitEvents(ctx, visitor)
}

// VisitEventsMatching 透传
func (s *TracingEventStore) VisitEventsMatching(ctx context.Context, criteria any, visitor EventVisitor) error {
	return s.inner.VisitEventsMatching(ctx, criteria, visitor)
}

// 编译期断言
var _ IEventStore = (*TracingEventStore)(nil)
