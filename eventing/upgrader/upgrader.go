// Package upgrader 提供事件升级链，用于事件Schema演化
//
// 升级发生在反序列化之前：存储条目的载荷（旧类型/旧版本的字节）经过
// 升级链变换为零个、一个或多个当前形态的序列化对象，再交给序列化器
// 还原为强类型载荷。历史数据永不改写，演化只发生在读路径。
package upgrader

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"shiji/eventing"
	"shiji/eventing/serialization"
)

// IUpcaster 事件升级器接口
//
// 一个升级器消费一种历史形态，产出下一形态；可以拆分（一变多）
// 也可以丢弃（返回空切片）。
type IUpcaster interface {
	// CanUpcast 判断是否处理该序列化类型
	CanUpcast(t serialization.SerializedType) bool

	// Upcast 升级一个序列化对象
	Upcast(obj serialization.SerializedObject) ([]serialization.SerializedObject, error)
}

// Chain 升级链
//
// 升级器按注册顺序依次作用于前序升级器的全部产物（顺序敏感）。
// 链在构造后只读，可被多个流并发使用。
type Chain struct {
	upcasters []IUpcaster
}

// NewChain 创建升级链
func NewChain(upcasters ...IUpcaster) *Chain {
	return &Chain{upcasters: upcasters}
}

// Empty 空升级链（事件直接透传）
func Empty() *Chain {
	return &Chain{}
}

// Upcast 将一个存储形态升级为当前形态的序列化对象序列
func (c *Chain) Upcast(obj serialization.SerializedObject) ([]serialization.SerializedObject, error) {
	current := []serialization.SerializedObject{obj}
	for _, upcaster := range c.upcasters {
		next := make([]serialization.SerializedObject, 0, len(current))
		for _, o := range current {
			if !upcaster.CanUpcast(o.Type) {
				next = append(next, o)
				continue
			}
			out, err := upcaster.Upcast(o)
			if err != nil {
				return nil, fmt.Errorf("upcast %s (rev %d) failed: %w", o.Type.Name, o.Type.Revision, err)
			}
			next = append(next, out...)
		}
		current = next
	}
	return current, nil
}

// UpcastAndDeserialize 将存储条目升级并反序列化为领域事件
//
// 两种模式：
//   - 严格（skipUnknown=false）：聚合回放使用。任何无法升级或类型未注册的
//     条目都是致命错误，避免聚合状态悄悄偏离真实历史。
//   - 容忍（skipUnknown=true）：全局扫描使用。升级失败或类型未知的条目被
//     跳过（返回空结果），扫描继续。
//
// 已注册类型的数据损坏（JSON 解析失败等）在两种模式下都向上传播。
func UpcastAndDeserialize(
	entry *eventing.StoredEventEntry,
	serializer serialization.ISerializer,
	chain *Chain,
	skipUnknown bool,
) ([]*eventing.DomainEvent, error) {
	objects, err := chain.Upcast(entry.Payload)
	if err != nil {
		if skipUnknown {
			return nil, nil
		}
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}

	metadata, err := serializer.DeserializeMetadata(entry.Metadata)
	if err != nil {
		if skipUnknown {
			return nil, nil
		}
		return nil, err
	}

	events := make([]*eventing.DomainEvent, 0, len(objects))
	for _, obj := range objects {
		payload, err := serializer.DeserializePayload(obj)
		if err != nil {
			var unknown *serialization.UnknownSerializedTypeError
			if skipUnknown && errors.As(err, &unknown) {
				continue
			}
			return nil, err
		}

		// 拆分产生的额外事件分配新的消息 ID，第一个沿用存储条目的 ID
		eventID := entry.EventID
		if len(events) > 0 || eventID == "" {
			eventID = uuid.NewString()
		}
		events = append(events, &eventing.DomainEvent{
			ID:             eventID,
			AggregateID:    entry.AggregateID,
			SequenceNumber: entry.SequenceNumber,
			Payload:        payload,
			Metadata:       metadata,
			Timestamp:      entry.Timestamp,
		})
	}
	return events, nil
}
