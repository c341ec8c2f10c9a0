package store

import (
	"context"
	"math"
	"time"

	"shiji/eventing"
	"shiji/eventing/monitoring"
	"shiji/eventing/serialization"
	"shiji/eventing/upgrader"
	"shiji/logging"
)

const (
	// DefaultBatchSize 每次访问存储读取的条目数
	DefaultBatchSize = 100

	// DefaultMaxSnapshotsKept 每个聚合默认保留的快照数
	DefaultMaxSnapshotsKept = 1
)

// IEventStore 事件存储编排器契约
//
// 装饰器（追踪、发布等）围绕该接口组合。
type IEventStore interface {
	AppendEvents(ctx context.Context, events []*eventing.DomainEvent) error
	ReadEvents(ctx context.Context, aggregateID string) (*DomainEventStream, error)
	ReadEventsRange(ctx context.Context, aggregateID string, firstSequence, lastSequence uint64) (*DomainEventStream, error)
	AppendSnapshot(ctx context.Context, snapshot *eventing.DomainEvent) error
	VisitEvents(ctx context.Context, visitor EventVisitor) error
	VisitEventsMatching(ctx context.Context, criteria any, visitor EventVisitor) error
}

// Config 事件存储配置
//
// 构造后只读；需要运行期变更时应构造新的 EventStore 实例而非修改共享配置。
type Config struct {
	// BatchSize 游标分页大小，<=0 时取 DefaultBatchSize
	BatchSize int

	// MaxSnapshotsKept 每个聚合保留的快照数，<=0 时关闭修剪
	MaxSnapshotsKept int

	// Serializer 载荷/元数据序列化器，nil 时使用全局注册表的 JSON 实现
	Serializer serialization.ISerializer

	// Upcasters 事件升级链，nil 时为空链
	Upcasters *upgrader.Chain

	// IsConflict 后端冲突判定器，nil 时所有存储错误原样传播
	IsConflict ConflictClassifier

	// Logger 为 nil 时使用全局 ComponentLogger("eventstore")
	Logger logging.Logger
}

// DefaultConfig 返回默认配置（批次 100，每聚合保留 1 条快照）
func DefaultConfig() Config {
	return Config{
		BatchSize:        DefaultBatchSize,
		MaxSnapshotsKept: DefaultMaxSnapshotsKept,
	}
}

// EventStore 事件存储编排器
//
// 在存储端口之上组合序列化、升级链与冲突判定。构造后不持有任何
// 每调用可变状态，可被多个 goroutine 并发使用；同一聚合的追加
// 顺序由调用方自行串行化（存储只保证冲突写入最多一个成功）。
type EventStore struct {
	entries          IEventEntryStore
	serializer       serialization.ISerializer
	upcasters        *upgrader.Chain
	isConflict       ConflictClassifier
	batchSize        int
	maxSnapshotsKept int
	logger           logging.Logger
	metrics          *monitoring.Metrics
}

// New 创建事件存储编排器
func New(entries IEventEntryStore, cfg Config) *EventStore {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serialization.NewJSONSerializer(nil)
	}
	if cfg.Upcasters == nil {
		cfg.Upcasters = upgrader.Empty()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("eventstore")
	}
	return &EventStore{
		entries:          entries,
		serializer:       cfg.Serializer,
		upcasters:        cfg.Upcasters,
		isConflict:       cfg.IsConflict,
		batchSize:        cfg.BatchSize,
		maxSnapshotsKept: cfg.MaxSnapshotsKept,
		logger:           cfg.Logger,
		metrics:          monitoring.GlobalMetrics(),
	}
}

// AppendEvents 按列表顺序持久化一批事件
//
// 一批事件必须属于同一聚合。写入失败时，若冲突判定器识别为唯一
// 约束冲突，返回携带第一个事件标识的 ConcurrencyError；否则底层
// 错误原样传播。空列表为空操作。
func (s *EventStore) AppendEvents(ctx context.Context, events []*eventing.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	aggregateID := events[0].AggregateID
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return eventing.NewInvalidEventError("event validation failed", err)
		}
		if evt.AggregateID != aggregateID {
			return eventing.NewInvalidEventError("mixed aggregate ids in append batch", nil)
		}
	}

	start := time.Now()
	for _, evt := range events {
		entry, err := s.serializeEvent(evt)
		if err != nil {
			return err
		}
		if err := s.entries.PersistEvent(ctx, entry); err != nil {
			return s.classifyAppendError(err, events[0])
		}
	}

	s.metrics.RecordAppend(len(events), time.Since(start))
	s.logger.Debug(ctx, "events appended",
		logging.String("aggregate_id", aggregateID),
		logging.Int("event_count", len(events)))
	return nil
}

// ReadEvents 读取聚合的完整事件流
//
// 先加载最新快照（损坏的快照记录告警后按无快照处理，回退全量回放），
// 再从 snapshotSequence+1（无快照时从 0）打开分批前向游标。
// 既无快照也无事件时返回 StreamNotFoundError。
func (s *EventStore) ReadEvents(ctx context.Context, aggregateID string) (*DomainEventStream, error) {
	var snapshotEvt *eventing.DomainEvent
	var firstSequence uint64

	snapshotEntry, err := s.entries.LoadLastSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if snapshotEntry != nil {
		snapshotEvt, err = s.deserializeSnapshot(snapshotEntry)
		if err != nil {
			// 快照损坏不致命：正确性优先，回退到完整历史回放
			s.logger.Warn(ctx, "读取快照失败，回退全量回放",
				logging.String("aggregate_id", aggregateID),
				logging.Uint64("snapshot_sequence", snapshotEntry.SequenceNumber),
				logging.Error(err))
			snapshotEvt = nil
		} else {
			firstSequence = snapshotEntry.SequenceNumber + 1
		}
	}
	s.metrics.RecordSnapshotLookup(snapshotEvt != nil)

	cursor, err := s.entries.FetchAggregateStream(ctx, aggregateID, firstSequence, s.batchSize)
	if err != nil {
		return nil, err
	}
	firstEntry, err := cursor.Next(ctx)
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}
	if snapshotEvt == nil && firstEntry == nil {
		_ = cursor.Close()
		return nil, eventing.NewStreamNotFoundError(aggregateID)
	}

	return s.openStream(ctx, cursor, streamOptions{
		snapshot:     snapshotEvt,
		firstEntry:   firstEntry,
		lastSequence: math.MaxUint64,
		skipUnknown:  false,
	})
}

// ReadEventsRange 读取聚合 [firstSequence, lastSequence] 区间的事件流
//
// 不做快照替代。批次大小取 min(配置值, 区间长度+2)，避免短区间过量
// 预取。游标无任何条目时返回 StreamNotFoundError。
func (s *EventStore) ReadEventsRange(ctx context.Context, aggregateID string, firstSequence, lastSequence uint64) (*DomainEventStream, error) {
	if lastSequence < firstSequence {
		return nil, eventing.NewInvalidEventError("lastSequence is smaller than firstSequence", nil)
	}

	batchSize := s.batchSize
	if span := lastSequence - firstSequence + 2; span < uint64(batchSize) {
		batchSize = int(span)
	}

	cursor, err := s.entries.FetchAggregateStream(ctx, aggregateID, firstSequence, batchSize)
	if err != nil {
		return nil, err
	}
	firstEntry, err := cursor.Next(ctx)
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}
	if firstEntry == nil {
		_ = cursor.Close()
		return nil, eventing.NewStreamNotFoundError(aggregateID)
	}

	return s.openStream(ctx, cursor, streamOptions{
		firstEntry:   firstEntry,
		lastSequence: lastSequence,
		skipUnknown:  false,
	})
}

// AppendSnapshot 持久化聚合快照
//
// 先写入再修剪：在较弱的隔离级别下，读取方不能观察到“最新快照已被
// 修剪掉但尚不可见、旧快照又已删除”的窗口。写入成功后，若保留数 > 0
// 则修剪到保留数；保留数 <= 0 时完全关闭修剪。重复键语义与事件追加
// 一致，返回 ConcurrencyError。
func (s *EventStore) AppendSnapshot(ctx context.Context, snapshot *eventing.DomainEvent) error {
	if err := snapshot.Validate(); err != nil {
		return eventing.NewInvalidEventError("snapshot validation failed", err)
	}
	entry, err := s.serializeEvent(snapshot)
	if err != nil {
		return err
	}
	if err := s.entries.PersistSnapshot(ctx, entry); err != nil {
		return s.classifyAppendError(err, snapshot)
	}
	s.metrics.RecordSnapshotAppended()

	if s.maxSnapshotsKept > 0 {
		if err := s.entries.PruneSnapshots(ctx, snapshot.AggregateID, s.maxSnapshotsKept); err != nil {
			return err
		}
		s.metrics.RecordSnapshotPrune()
	}

	s.logger.Debug(ctx, "snapshot appended",
		logging.String("aggregate_id", snapshot.AggregateID),
		logging.Uint64("sequence", snapshot.SequenceNumber))
	return nil
}

// VisitEvents 按稳定全局顺序访问全部事件（容忍模式）
func (s *EventStore) VisitEvents(ctx context.Context, visitor EventVisitor) error {
	return s.VisitEventsMatching(ctx, nil, visitor)
}

// VisitEventsMatching 访问满足过滤条件的事件（容忍模式）
//
// criteria 原样透传给存储端口。无法解析的条目被静默跳过，扫描继续；
// 已注册类型的数据损坏仍会中止扫描并返回错误。
func (s *EventStore) VisitEventsMatching(ctx context.Context, criteria any, visitor EventVisitor) error {
	cursor, err := s.entries.FetchFiltered(ctx, criteria, s.batchSize)
	if err != nil {
		return err
	}
	stream, err := s.openStream(ctx, cursor, streamOptions{
		lastSequence: math.MaxUint64,
		skipUnknown:  true,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.HasNext() {
		evt, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		visitor(evt)
		s.metrics.RecordEventVisited()
	}
	return nil
}

// openStream 构造事件流；构造失败时负责关闭游标
func (s *EventStore) openStream(ctx context.Context, cursor IEntryCursor, opts streamOptions) (*DomainEventStream, error) {
	opts.cursor = cursor
	opts.serializer = s.serializer
	opts.chain = s.upcasters
	opts.metrics = s.metrics
	stream, err := newDomainEventStream(ctx, opts)
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}
	return stream, nil
}

func (s *EventStore) serializeEvent(evt *eventing.DomainEvent) (*eventing.StoredEventEntry, error) {
	payload, err := s.serializer.SerializePayload(evt.Payload)
	if err != nil {
		return nil, eventing.NewSerializationError("serialize payload failed", err)
	}
	metadata, err := s.serializer.SerializeMetadata(evt.Metadata)
	if err != nil {
		return nil, eventing.NewSerializationError("serialize metadata failed", err)
	}
	return &eventing.StoredEventEntry{
		EventID:        evt.ID,
		AggregateID:    evt.AggregateID,
		SequenceNumber: evt.SequenceNumber,
		Timestamp:      evt.Timestamp,
		Payload:        payload,
		Metadata:       metadata,
	}, nil
}

// deserializeSnapshot 直接反序列化快照条目（快照不经过升级链）
func (s *EventStore) deserializeSnapshot(entry *eventing.StoredEventEntry) (*eventing.DomainEvent, error) {
	payload, err := s.serializer.DeserializePayload(entry.Payload)
	if err != nil {
		return nil, err
	}
	metadata, err := s.serializer.DeserializeMetadata(entry.Metadata)
	if err != nil {
		return nil, err
	}
	return &eventing.DomainEvent{
		ID:             entry.EventID,
		AggregateID:    entry.AggregateID,
		SequenceNumber: entry.SequenceNumber,
		Payload:        payload,
		Metadata:       metadata,
		Timestamp:      entry.Timestamp,
	}, nil
}

func (s *EventStore) classifyAppendError(err error, first *eventing.DomainEvent) error {
	if s.isConflict != nil && s.isConflict(err) {
		s.metrics.RecordConflict()
		return eventing.NewConcurrencyError(first.AggregateID, first.SequenceNumber, err)
	}
	s.metrics.RecordStoreError()
	return err
}

// 编译期断言
var _ IEventStore = (*EventStore)(nil)
