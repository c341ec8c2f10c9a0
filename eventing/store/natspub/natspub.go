// Package natspub 提供把已追加事件发布到 NATS JetStream 的事件存储装饰器
//
// 装饰器在内层存储成功持久化之后发布；发布是尽力而为的：发布失败
// 只记日志不回滚追加（事件日志是事实来源，下游可通过全局扫描补齐）。
package natspub

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"shiji/eventing"
	"shiji/eventing/serialization"
	"shiji/eventing/store"
	"shiji/logging"
)

// jetStream 约束本装饰器依赖的 JetStream 命令子集（便于测试替身）
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Config JetStream 发布装饰器配置
type Config struct {
	// JetStream 注入的 JetStream 上下文；为 nil 时用 URL 自建连接
	JetStream nats.JetStreamContext

	URL           string
	Stream        string // 默认 "EVENTS"
	SubjectPrefix string // 默认 "events."

	// Serializer 用于取事件载荷的序列化类型名（主题后缀），
	// nil 时使用全局注册表的 JSON 实现
	Serializer serialization.ISerializer

	Logger logging.Logger
}

// PublishingEventStore 事件存储的 JetStream 发布装饰器
type PublishingEventStore struct {
	inner         store.IEventStore
	js            jetStream
	conn          *nats.Conn
	subjectPrefix string
	serializer    serialization.ISerializer
	logger        logging.Logger
}

// New 创建发布装饰器
func New(inner store.IEventStore, cfg Config) (*PublishingEventStore, error) {
	if inner == nil {
		return nil, errors.New("inner event store is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "EVENTS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "events."
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serialization.NewJSONSerializer(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("natspub")
	}

	p := &PublishingEventStore{
		inner:         inner,
		subjectPrefix: cfg.SubjectPrefix,
		serializer:    cfg.Serializer,
		logger:        cfg.Logger,
	}

	if cfg.JetStream != nil {
		p.js = cfg.JetStream
		return p, nil
	}

	if cfg.URL == "" {
		return nil, errors.New("nats url or jetstream context required")
	}
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	// 流不存在时创建（幂等）
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ">"},
	}); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	p.js = js
	return p, nil
}

// Close 关闭自建的 NATS 连接；注入的 JetStream 上下文由调用方管理
func (p *PublishingEventStore) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

// AppendEvents 先持久化再发布；发布失败不影响追加结果
func (p *PublishingEventStore) AppendEvents(ctx context.Context, events []*eventing.DomainEvent) error {
	if err := p.inner.AppendEvents(ctx, events); err != nil {
		return err
	}
	for _, evt := range events {
		p.publish(ctx, evt)
	}
	return nil
}

// ReadEvents 委托给内层存储
func (p *PublishingEventStore) ReadEvents(ctx context.Context, aggregateID string) (*store.DomainEventStream, error) {
	return p.inner.ReadEvents(ctx, aggregateID)
}

// ReadEventsRange 委托给内层存储
func (p *PublishingEventStore) ReadEventsRange(ctx context.Context, aggregateID string, firstSequence, lastSequence uint64) (*store.DomainEventStream, error) {
	return p.inner.ReadEventsRange(ctx, aggregateID, firstSequence, lastSequence)
}

// AppendSnapshot 委托给内层存储；快照是读取优化，不对外发布
func (p *PublishingEventStore) AppendSnapshot(ctx context.Context, snapshot *eventing.DomainEvent) error {
	return p.inner.AppendSnapshot(ctx, snapshot)
}

// VisitEvents 委托给内层存储
func (p *PublishingEventStore) VisitEvents(ctx context.Context, visitor store.EventVisitor) error {
	return p.inner.VisitEvents(ctx, visitor)
}

// VisitEventsMatching 委托给内层存储
func (p *PublishingEventStore) VisitEventsMatching(ctx context.Context, criteria any, visitor store.EventVisitor) error {
	return p.inner.VisitEventsMatching(ctx, criteria, visitor)
}

func (p *PublishingEventStore) publish(ctx context.Context, evt *eventing.DomainEvent) {
	payload, err := p.serializer.SerializePayload(evt.Payload)
	if err != nil {
		p.logger.Warn(ctx, "serialize event for publish failed",
			logging.String("event_id", evt.ID), logging.Error(err))
		return
	}
	data, err := marshalEvent(evt, payload)
	if err != nil {
		p.logger.Warn(ctx, "marshal event for publish failed",
			logging.String("event_id", evt.ID), logging.Error(err))
		return
	}
	subject := p.subjectPrefix + payload.Type.Name
	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "publish event failed",
			logging.String("event_id", evt.ID),
			logging.String("subject", subject),
			logging.Error(err))
	}
}

// 编译期断言
var _ store.IEventStore = (*PublishingEventStore)(nil)
