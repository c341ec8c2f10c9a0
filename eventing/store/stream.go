package store

import (
	"context"
	"errors"

	"shiji/eventing"
	"shiji/eventing/monitoring"
	"shiji/eventing/serialization"
	"shiji/eventing/upgrader"
)

// ErrEndOfStream 事件流已耗尽
var ErrEndOfStream = errors.New("end of domain event stream")

// DomainEventStream 领域事件流
//
// 惰性、前向只读：可选的快照头部 + 经升级链展开的实时批次。
// 一个流独占一个底层游标，非并发安全（单消费者），用毕必须 Close。
//
// 批次补充失败的错误会延迟到下一次 Next 返回，已预读的事件不会丢失。
type DomainEventStream struct {
	serializer  serialization.ISerializer
	chain       *upgrader.Chain
	cursor      IEntryCursor
	metrics     *monitoring.Metrics
	skipUnknown bool

	// lastSequence 为上界（含）；无界读取时为 math.MaxUint64
	lastSequence uint64

	pending  *eventing.StoredEventEntry // 预读但尚未升级的第一个条目
	batch    []*eventing.DomainEvent
	batchIdx int
	next     *eventing.DomainEvent
	err      error
	closed   bool
}

type streamOptions struct {
	snapshot     *eventing.DomainEvent
	firstEntry   *eventing.StoredEventEntry
	cursor       IEntryCursor
	serializer   serialization.ISerializer
	chain        *upgrader.Chain
	metrics      *monitoring.Metrics
	lastSequence uint64
	skipUnknown  bool
}

// newDomainEventStream 构造事件流并预读第一个元素
//
// 严格模式下首个条目升级失败会在此处直接返回错误，调用方负责关闭游标。
func newDomainEventStream(ctx context.Context, opts streamOptions) (*DomainEventStream, error) {
	s := &DomainEventStream{
		serializer:   opts.serializer,
		chain:        opts.chain,
		cursor:       opts.cursor,
		metrics:      opts.metrics,
		skipUnknown:  opts.skipUnknown,
		lastSequence: opts.lastSequence,
		pending:      opts.firstEntry,
	}
	if opts.snapshot != nil {
		s.batch = []*eventing.DomainEvent{opts.snapshot}
	}
	if err := s.advance(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// HasNext 是否还有下一个事件
//
// 有界读取时，预读元素的序列号超过上界即视为耗尽。
// 存在待上报的错误时返回 true，由随后的 Next 暴露。
func (s *DomainEventStream) HasNext() bool {
	if s.err != nil {
		return true
	}
	return s.next != nil && s.next.SequenceNumber <= s.lastSequence
}

// Next 返回下一个事件并前移
func (s *DomainEventStream) Next(ctx context.Context) (*eventing.DomainEvent, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		s.next = nil
		return nil, err
	}
	if s.next == nil || s.next.SequenceNumber > s.lastSequence {
		return nil, ErrEndOfStream
	}

	current := s.next
	if err := s.advance(ctx); err != nil {
		// 延迟上报：当前事件照常返回，错误留给下一次 Next
		s.err = err
	}
	if s.metrics != nil {
		s.metrics.RecordEventRead(1)
	}
	return current, nil
}

// Peek 查看下一个事件但不消费；流耗尽时返回 nil
func (s *DomainEventStream) Peek() *eventing.DomainEvent {
	return s.next
}

// Close 释放底层游标；可重复调用
func (s *DomainEventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cursor == nil {
		return nil
	}
	return s.cursor.Close()
}

// advance 前移预读指针
//
// 先消耗内存中的当前批次；耗尽后从游标拉取下一条存储条目并经升级
// 管道展开为新批次，跨越空批次/被跳过的条目循环，直到找到元素或
// 游标耗尽。
func (s *DomainEventStream) advance(ctx context.Context) error {
	for {
		if s.batchIdx < len(s.batch) {
			s.next = s.batch[s.batchIdx]
			s.batchIdx++
			return nil
		}

		entry, err := s.nextEntry(ctx)
		if err != nil {
			s.next = nil
			return err
		}
		if entry == nil {
			s.next = nil
			return nil
		}

		batch, err := upgrader.UpcastAndDeserialize(entry, s.serializer, s.chain, s.skipUnknown)
		if err != nil {
			s.next = nil
			return err
		}
		if len(batch) == 0 && s.skipUnknown && s.metrics != nil {
			s.metrics.RecordEntrySkipped()
		}
		s.batch = batch
		s.batchIdx = 0
	}
}

func (s *DomainEventStream) nextEntry(ctx context.Context) (*eventing.StoredEventEntry, error) {
	if s.pending != nil {
		entry := s.pending
		s.pending = nil
		return entry, nil
	}
	if s.cursor == nil {
		return nil, nil
	}
	return s.cursor.Next(ctx)
}
