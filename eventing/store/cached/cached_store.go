// Package cached 提供快照查找的缓存装饰器
//
// 读多写少的回放场景下，LoadLastSnapshot 是每次读取的固定开销；
// 装饰器用进程内 LRU 缓存吸收这部分查询，写入快照时失效对应条目。
// 事件读取路径不缓存：事件流惰性分批，缓存整条历史得不偿失。
package cached

import (
	"context"
	"time"

	"shiji/cache"
	"shiji/eventing"
	"shiji/eventing/store"
)

// Config 快照缓存配置
type Config struct {
	// MaxAggregates 最大缓存聚合数，默认 1000
	MaxAggregates int

	// TTL 缓存过期时间（基于访问时间），默认 5 分钟
	TTL time.Duration
}

// DefaultConfig 默认快照缓存配置
func DefaultConfig() Config {
	return Config{
		MaxAggregates: 1000,
		TTL:           5 * time.Minute,
	}
}

// CachedEntryStore 事件条目存储的快照缓存装饰器
//
// 只缓存 LoadLastSnapshot 的非空结果；其余操作透传。
// 缓存仅对本进程可见：多写入方部署下其他进程写入的更新快照
// 在 TTL 内可能读到旧快照，回放仍然正确（只是多放几个事件）。
type CachedEntryStore struct {
	inner     store.IEventEntryStore
	snapshots *cache.Cache[string, *eventing.StoredEventEntry]
}

// New 创建快照缓存装饰器
func New(inner store.IEventEntryStore, cfg Config) *CachedEntryStore {
	if cfg.MaxAggregates <= 0 {
		cfg.MaxAggregates = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &CachedEntryStore{
		inner: inner,
		snapshots: cache.New[string, *eventing.StoredEventEntry](cache.Config{
			Name:    "snapshot_lookup",
			MaxSize: cfg.MaxAggregates,
			TTL:     cfg.TTL,
		}),
	}
}

// PersistEvent 透传
func (s *CachedEntryStore) PersistEvent(ctx context.Context, entry *eventing.StoredEventEntry) error {
	return s.inner.PersistEvent(ctx, entry)
}

// PersistSnapshot 写入成功后失效该聚合的缓存条目
func (s *CachedEntryStore) PersistSnapshot(ctx context.Context, entry *eventing.StoredEventEntry) error {
	if err := s.inner.PersistSnapshot(ctx, entry); err != nil {
		return err
	}
	s.snapshots.Delete(entry.AggregateID)
	return nil
}

// LoadLastSnapshot 先查缓存，未命中时回源并填充
func (s *CachedEntryStore) LoadLastSnapshot(ctx context.Context, aggregateID string) (*eventing.StoredEventEntry, error) {
	if entry, found := s.snapshots.Get(aggregateID); found {
		return entry, nil
	}
	entry, err := s.inner.LoadLastSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.snapshots.Set(aggregateID, entry)
	}
	return entry, nil
}

// FetchAggregateStream 透传
func (s *CachedEntryStore) FetchAggregateStream(ctx context.Context, aggregateID string, firstSequence uint64, batchSize int) (store.IEntryCursor, error) {
	return s.inner.FetchAggregateStream(ctx, aggregateID, firstSequence, batchSize)
}

// FetchFiltered 透传
func (s *CachedEntryStore) FetchFiltered(ctx context.Context, criteria any, batchSize int) (store.IEntryCursor, error) {
	return s.inner.FetchFiltered(ctx, criteria, batchSize)
}

// PruneSnapshots 透传；修剪只删除较旧快照，缓存的最新快照仍有效
func (s *CachedEntryStore) PruneSnapshots(ctx context.Context, aggregateID string, keep int) error {
	return s.inner.PruneSnapshots(ctx, aggregateID, keep)
}

// Stats 返回快照缓存统计
func (s *CachedEntryStore) Stats() cache.CacheStats {
	return s.snapshots.Stats()
}

// 编译期断言
var _ store.IEventEntryStore = (*CachedEntryStore)(nil)
