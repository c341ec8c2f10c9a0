// Package store 实现事件存储核心：存储端口、编排器与领域事件流
//
// 分层关系：
//   - IEventEntryStore 是后端无关的持久化端口（内存/SQL/Redis 等均可实现）；
//   - EventStore 编排器在端口之上组合序列化、升级链与冲突判定；
//   - DomainEventStream 是惰性前向游标，按批次拉取并升级存储条目。
package store

import (
	"context"

	"shiji/eventing"
)

// IEntryCursor 存储条目游标
//
// 前向只读，游标耗尽时 Next 返回 (nil, nil)。实现内部按批次
// （batchSize）惰性拉取分页，调用方每次只消费一条。
// 游标独占其底层连接/句柄，使用完毕必须 Close（任何退出路径）。
type IEntryCursor interface {
	Next(ctx context.Context) (*eventing.StoredEventEntry, error)
	Close() error
}

// IEventEntryStore 事件条目存储端口
//
// 端口之上的任何组件不得假设具体存储技术；所有实现必须满足：
//   - (aggregate_id, sequence_number) 在事件表与快照表中分别唯一，
//     冲突写入返回可被对应 ConflictClassifier 识别的错误；
//   - FetchAggregateStream 按序列号升序产出；
//   - FetchFiltered 按稳定的全局顺序（如插入顺序）产出；
//   - 写入无隐式重试。
type IEventEntryStore interface {
	// PersistEvent 持久化一条事件
	PersistEvent(ctx context.Context, entry *eventing.StoredEventEntry) error

	// PersistSnapshot 持久化一条快照
	PersistSnapshot(ctx context.Context, entry *eventing.StoredEventEntry) error

	// LoadLastSnapshot 加载聚合最新快照，无快照时返回 (nil, nil)
	LoadLastSnapshot(ctx context.Context, aggregateID string) (*eventing.StoredEventEntry, error)

	// FetchAggregateStream 打开聚合事件游标，从 firstSequence（含）开始
	FetchAggregateStream(ctx context.Context, aggregateID string, firstSequence uint64, batchSize int) (IEntryCursor, error)

	// FetchFiltered 打开跨聚合的全局游标；criteria 为后端特定的不透明过滤条件，
	// nil 表示全量扫描
	FetchFiltered(ctx context.Context, criteria any, batchSize int) (IEntryCursor, error)

	// PruneSnapshots 删除该聚合除最近 keep 条之外的全部快照
	PruneSnapshots(ctx context.Context, aggregateID string, keep int) error
}

// ConflictClassifier 判断存储错误是否为唯一约束冲突
//
// 由后端提供（错误码/错误文本的启发式随后端而变），编排器据此把
// 冲突写入转换为 ConcurrencyError，其余错误原样传播。
type ConflictClassifier func(err error) bool

// EventVisitor 全局扫描的事件访问器，按端口产出顺序每事件调用一次
type EventVisitor func(event *eventing.DomainEvent)
