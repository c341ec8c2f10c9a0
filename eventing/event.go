// Package eventing 定义事件溯源的领域事件模型与错误类型
package eventing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"shiji/eventing/serialization"
)

// DomainEvent 领域事件
//
// (AggregateID, SequenceNumber) 全局唯一；序列号由调用方分配，
// 存储层只保证唯一性，不强制连续（调用方异常时允许出现空洞）。
type DomainEvent struct {
	ID             string         `json:"id"`
	AggregateID    string         `json:"aggregate_id"`
	SequenceNumber uint64         `json:"sequence_number"`
	Payload        any            `json:"payload"`
	Metadata       map[string]any `json:"metadata"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewDomainEvent 创建领域事件，自动分配消息 ID 与时间戳
func NewDomainEvent(aggregateID string, sequenceNumber uint64, payload any, metadata map[string]any) *DomainEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &DomainEvent{
		ID:             uuid.NewString(),
		AggregateID:    aggregateID,
		SequenceNumber: sequenceNumber,
		Payload:        payload,
		Metadata:       metadata,
		Timestamp:      time.Now(),
	}
}

// Validate 校验事件可被持久化
func (e *DomainEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("aggregate id cannot be empty")
	}
	return nil
}

// StoredEventEntry 事件/快照的落盘形态
//
// 一旦写入即不可变；快照条目复用同一形态，逻辑上替代其序列号
// 及之前的全部事件。
type StoredEventEntry struct {
	EventID        string
	AggregateID    string
	SequenceNumber uint64
	Timestamp      time.Time
	Payload        serialization.SerializedObject
	Metadata       serialization.SerializedObject
}
