package natspub

import (
	"encoding/json"
	"time"

	"shiji/eventing"
	"shiji/eventing/serialization"
)

// wireEvent 发布到 JetStream 的线格式
type wireEvent struct {
	ID              string          `json:"id"`
	AggregateID     string          `json:"aggregate_id"`
	SequenceNumber  uint64          `json:"sequence_number"`
	Timestamp       int64           `json:"timestamp"`
	PayloadType     string          `json:"payload_type"`
	PayloadRevision int             `json:"payload_revision"`
	Payload         json.RawMessage `json:"payload"`
	Metadata        map[string]any  `json:"metadata"`
}

func marshalEvent(evt *eventing.DomainEvent, payload serialization.SerializedObject) ([]byte, error) {
	metadata := evt.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wireEvent{
		ID:              evt.ID,
		AggregateID:     evt.AggregateID,
		SequenceNumber:  evt.SequenceNumber,
		Timestamp:       ts.UnixNano(),
		PayloadType:     payload.Type.Name,
		PayloadRevision: payload.Type.Revision,
		Payload:         payload.Data,
		Metadata:        metadata,
	})
}

// UnmarshalEvent 供消费方把线格式还原为存储条目形态
//
// 载荷保持序列化字节不展开，消费方可按需经自己的注册表/升级链还原。
func UnmarshalEvent(data []byte) (*eventing.StoredEventEntry, error) {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(wire.Metadata)
	if err != nil {
		return nil, err
	}
	return &eventing.StoredEventEntry{
		EventID:        wire.ID,
		AggregateID:    wire.AggregateID,
		SequenceNumber: wire.SequenceNumber,
		Timestamp:      time.Unix(0, wire.Timestamp),
		Payload: serialization.SerializedObject{
			Type: serialization.SerializedType{Name: wire.PayloadType, Revision: wire.PayloadRevision},
			Data: wire.Payload,
		},
		Metadata: serialization.SerializedObject{
			Type: serialization.SerializedType{Name: serialization.MetadataTypeName, Revision: 1},
			Data: metadata,
		},
	}, nil
}
