// Package monitoring 提供事件存储的轻量级运行指标
package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 事件存储监控指标
//
// 所有计数器使用原子操作，可被多个存储实例并发记录。
type Metrics struct {
	// 事件存储指标
	eventsAppended     int64 // 追加的事件总数
	eventsRead         int64 // 回放读出的事件总数
	appendDuration     int64 // 追加总耗时（纳秒）
	conflictsDetected  int64 // 检出的并发冲突数
	storeErrors        int64 // 其他存储错误数

	// 快照指标
	snapshotsAppended int64 // 追加的快照总数
	snapshotHits      int64 // 读取时快照命中次数
	snapshotMisses    int64 // 读取时快照未命中次数（含损坏回退）
	snapshotsPruned   int64 // 保留策略触发的修剪次数

	// 全局扫描指标
	eventsVisited int64 // 访问器处理的事件总数
	entriesSkipped int64 // 容忍模式下跳过的条目数

	startTime time.Time
}

// NewMetrics 创建指标收集器
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordAppend 记录事件追加
func (m *Metrics) RecordAppend(count int, duration time.Duration) {
	atomic.AddInt64(&m.eventsAppended, int64(count))
	atomic.AddInt64(&m.appendDuration, int64(duration))
}

// RecordEventRead 记录事件读出
func (m *Metrics) RecordEventRead(count int) {
	atomic.AddInt64(&m.eventsRead, int64(count))
}

// RecordConflict 记录并发冲突
func (m *Metrics) RecordConflict() { atomic.AddInt64(&m.conflictsDetected, 1) }

// RecordStoreError 记录未分类存储错误
func (m *Metrics) RecordStoreError() { atomic.AddInt64(&m.storeErrors, 1) }

// RecordSnapshotAppended 记录快照追加
func (m *Metrics) RecordSnapshotAppended() { atomic.AddInt64(&m.snapshotsAppended, 1) }

// RecordSnapshotLookup 记录快照查找结果
func (m *Metrics) RecordSnapshotLookup(hit bool) {
	if hit {
		atomic.AddInt64(&m.snapshotHits, 1)
	} else {
		atomic.AddInt64(&m.snapshotMisses, 1)
	}
}

// RecordSnapshotPrune 记录一次保留策略修剪
func (m *Metrics) RecordSnapshotPrune() { atomic.AddInt64(&m.snapshotsPruned, 1) }

// RecordEventVisited 记录全局扫描访问的事件
func (m *Metrics) RecordEventVisited() { atomic.AddInt64(&m.eventsVisited, 1) }

// RecordEntrySkipped 记录容忍模式下跳过的条目
func (m *Metrics) RecordEntrySkipped() { atomic.AddInt64(&m.entriesSkipped, 1) }

// Snapshot 指标快照（用于读取）
type Snapshot struct {
	EventsAppended    int64
	EventsRead        int64
	AppendDuration    time.Duration
	ConflictsDetected int64
	StoreErrors       int64

	SnapshotsAppended int64
	SnapshotHits      int64
	SnapshotMisses    int64
	SnapshotsPruned   int64

	EventsVisited  int64
	EntriesSkipped int64

	Uptime time.Duration
}

// Snapshot 读取当前指标
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		EventsAppended:    atomic.LoadInt64(&m.eventsAppended),
		EventsRead:        atomic.LoadInt64(&m.eventsRead),
		AppendDuration:    time.Duration(atomic.LoadInt64(&m.appendDuration)),
		ConflictsDetected: atomic.LoadInt64(&m.conflictsDetected),
		StoreErrors:       atomic.LoadInt64(&m.storeErrors),
		SnapshotsAppended: atomic.LoadInt64(&m.snapshotsAppended),
		SnapshotHits:      atomic.LoadInt64(&m.snapshotHits),
		SnapshotMisses:    atomic.LoadInt64(&m.snapshotMisses),
		SnapshotsPruned:   atomic.LoadInt64(&m.snapshotsPruned),
		EventsVisited:     atomic.LoadInt64(&m.eventsVisited),
		EntriesSkipped:    atomic.LoadInt64(&m.entriesSkipped),
		Uptime:            time.Since(m.startTime),
	}
}

var globalMetrics *Metrics
var metricsOnce sync.Once

// GlobalMetrics 获取全局指标收集器
func GlobalMetrics() *Metrics {
	metricsOnce.Do(func() { globalMetrics = NewMetrics() })
	return globalMetrics
}
