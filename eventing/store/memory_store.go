package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"shiji/eventing"
)

// ErrDuplicateEntry 内存存储的唯一约束冲突哨兵
var ErrDuplicateEntry = errors.New("duplicate entry: aggregate_id and sequence_number already exist")

// IsDuplicateEntry 内存存储的冲突判定器
//
// 同时识别 SQL 后端常见的重复键错误文本，便于在测试中互换后端。
func IsDuplicateEntry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateEntry) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// EntryPredicate 内存存储的过滤条件，传给 FetchFiltered 的 criteria
type EntryPredicate func(entry *eventing.StoredEventEntry) bool

// MemoryEventEntryStore 内存事件条目存储
//
// 事件按聚合分桶并保持序列号升序；另维护一份全局插入顺序切片供
// 跨聚合扫描。并发安全。主要用于测试与单进程场景。
type MemoryEventEntryStore struct {
	mutex     sync.RWMutex
	events    map[string][]*eventing.StoredEventEntry // aggregateID -> 按序列号升序
	snapshots map[string][]*eventing.StoredEventEntry // aggregateID -> 按序列号升序
	global    []*eventing.StoredEventEntry            // 插入顺序
}

// NewMemoryEventEntryStore 创建内存事件条目存储
func NewMemoryEventEntryStore() *MemoryEventEntryStore {
	return &MemoryEventEntryStore{
		events:    make(map[string][]*eventing.StoredEventEntry),
		snapshots: make(map[string][]*eventing.StoredEventEntry),
	}
}

// PersistEvent 持久化一条事件，重复的 (聚合, 序列号) 返回 ErrDuplicateEntry
func (m *MemoryEventEntryStore) PersistEvent(ctx context.Context, entry *eventing.StoredEventEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	inserted, err := insertSorted(m.events[entry.AggregateID], entry)
	if err != nil {
		return err
	}
	m.events[entry.AggregateID] = inserted
	m.global = append(m.global, entry)
	return nil
}

// PersistSnapshot 持久化一条快照，唯一性约束与事件相同
func (m *MemoryEventEntryStore) PersistSnapshot(ctx context.Context, entry *eventing.StoredEventEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	inserted, err := insertSorted(m.snapshots[entry.AggregateID], entry)
	if err != nil {
		return err
	}
	m.snapshots[entry.AggregateID] = inserted
	return nil
}

// LoadLastSnapshot 返回序列号最大的快照，无快照时返回 (nil, nil)
func (m *MemoryEventEntryStore) LoadLastSnapshot(ctx context.Context, aggregateID string) (*eventing.StoredEventEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshots := m.snapshots[aggregateID]
	if len(snapshots) == 0 {
		return nil, nil
	}
	return snapshots[len(snapshots)-1], nil
}

// FetchAggregateStream 打开聚合事件游标，从 firstSequence（含）开始按序列号升序产出
func (m *MemoryEventEntryStore) FetchAggregateStream(ctx context.Context, aggregateID string, firstSequence uint64, batchSize int) (IEntryCursor, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	all := m.events[aggregateID]
	start := sort.Search(len(all), func(i int) bool {
		return all[i].SequenceNumber >= firstSequence
	})

	// 复制切片：游标生命周期内的写入不影响已打开的扫描
	entries := make([]*eventing.StoredEventEntry, len(all)-start)
	copy(entries, all[start:])
	return &memoryCursor{entries: entries, batchSize: batchSize}, nil
}

// FetchFiltered 打开全局插入顺序游标
//
// criteria 必须为 nil（全量扫描）或 EntryPredicate。
func (m *MemoryEventEntryStore) FetchFiltered(ctx context.Context, criteria any, batchSize int) (IEntryCursor, error) {
	var predicate EntryPredicate
	if criteria != nil {
		p, ok := criteria.(EntryPredicate)
		if !ok {
			return nil, eventing.NewInvalidEventError("memory store criteria must be an EntryPredicate", nil)
		}
		predicate = p
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entries := make([]*eventing.StoredEventEntry, 0, len(m.global))
	for _, entry := range m.global {
		if predicate == nil || predicate(entry) {
			entries = append(entries, entry)
		}
	}
	return &memoryCursor{entries: entries, batchSize: batchSize}, nil
}

// PruneSnapshots 删除聚合除最近 keep 条之外的全部快照
func (m *MemoryEventEntryStore) PruneSnapshots(ctx context.Context, aggregateID string, keep int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	snapshots := m.snapshots[aggregateID]
	if len(snapshots) <= keep {
		return nil
	}
	m.snapshots[aggregateID] = snapshots[len(snapshots)-keep:]
	return nil
}

// insertSorted 按序列号升序插入，重复时返回 ErrDuplicateEntry
func insertSorted(entries []*eventing.StoredEventEntry, entry *eventing.StoredEventEntry) ([]*eventing.StoredEventEntry, error) {
	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].SequenceNumber >= entry.SequenceNumber
	})
	if pos < len(entries) && entries[pos].SequenceNumber == entry.SequenceNumber {
		return nil, ErrDuplicateEntry
	}
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry
	return entries, nil
}

// memoryCursor 基于快照切片的游标；batchSize 仅约束单次内部推进量，
// 与 SQL/Redis 游标的分页行为保持一致的观察效果。
type memoryCursor struct {
	entries   []*eventing.StoredEventEntry
	batchSize int
	pos       int
	closed    bool
}

func (c *memoryCursor) Next(ctx context.Context) (*eventing.StoredEventEntry, error) {
	if c.closed {
		return nil, errors.New("cursor is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.entries) {
		return nil, nil
	}
	entry := c.entries[c.pos]
	c.pos++
	return entry, nil
}

func (c *memoryCursor) Close() error {
	c.closed = true
	return nil
}

// 编译期断言
var (
	_ IEventEntryStore   = (*MemoryEventEntryStore)(nil)
	_ IEntryCursor       = (*memoryCursor)(nil)
	_ ConflictClassifier = IsDuplicateEntry
)
