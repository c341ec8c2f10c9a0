package eventing

import "fmt"

// EventStoreError 事件存储错误基类
type EventStoreError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EventStoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EventStoreError) Unwrap() error { return e.Cause }

// 预定义错误代码
const (
	ErrCodeInvalidEvent = "INVALID_EVENT"
	ErrCodeStoreFailed  = "STORE_FAILED"
	ErrCodeSerialize    = "SERIALIZE_FAILED"
)

// NewInvalidEventError 创建无效事件错误
func NewInvalidEventError(msg string, cause error) *EventStoreError {
	return &EventStoreError{Code: ErrCodeInvalidEvent, Message: msg, Cause: cause}
}

// NewStoreFailedError 创建存储失败错误
func NewStoreFailedError(msg string, cause error) *EventStoreError {
	return &EventStoreError{Code: ErrCodeStoreFailed, Message: msg, Cause: cause}
}

// NewSerializationError 创建序列化失败错误
func NewSerializationError(msg string, cause error) *EventStoreError {
	return &EventStoreError{Code: ErrCodeSerialize, Message: msg, Cause: cause}
}

// ConcurrencyError 并发冲突错误
//
// 追加事件或快照时命中 (aggregate_id, sequence_number) 唯一约束。
// 携带批次中第一个事件的标识；调用方应重新加载聚合后重试。
// 识别方式：errors.As(err, **ConcurrencyError)。
type ConcurrencyError struct {
	AggregateID    string
	SequenceNumber uint64
	Cause          error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrent modification detected for aggregate [%s], sequence [%d]",
		e.AggregateID, e.SequenceNumber)
}

func (e *ConcurrencyError) Unwrap() error { return e.Cause }

// NewConcurrencyError 创建并发冲突错误
func NewConcurrencyError(aggregateID string, sequenceNumber uint64, cause error) *ConcurrencyError {
	return &ConcurrencyError{AggregateID: aggregateID, SequenceNumber: sequenceNumber, Cause: cause}
}

// StreamNotFoundError 事件流不存在错误
//
// 读取时既无快照也无事件。对该次读取而言是终态错误。
type StreamNotFoundError struct {
	AggregateID string
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("event stream not found for aggregate [%s]", e.AggregateID)
}

// NewStreamNotFoundError 创建事件流不存在错误
func NewStreamNotFoundError(aggregateID string) *StreamNotFoundError {
	return &StreamNotFoundError{AggregateID: aggregateID}
}
