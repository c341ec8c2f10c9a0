package redisstore

import (
	"encoding/json"
	"time"

	"shiji/eventing"
	"shiji/eventing/serialization"
)

// entryRecord 条目的落盘 JSON 形态
//
// 时间戳以 unixnano 编码，避免 JSON 时间格式的时区/精度歧义。
type entryRecord struct {
	EventID         string `json:"event_id"`
	AggregateID     string `json:"aggregate_id"`
	SequenceNumber  uint64 `json:"sequence_number"`
	TimestampNano   int64  `json:"timestamp"`
	PayloadType     string `json:"payload_type"`
	PayloadRevision int    `json:"payload_revision"`
	Payload         string `json:"payload"`
	Metadata        string `json:"metadata"`
}

func encodeEntry(entry *eventing.StoredEventEntry) (string, error) {
	record := entryRecord{
		EventID:         entry.EventID,
		AggregateID:     entry.AggregateID,
		SequenceNumber:  entry.SequenceNumber,
		TimestampNano:   entry.Timestamp.UnixNano(),
		PayloadType:     entry.Payload.Type.Name,
		PayloadRevision: entry.Payload.Type.Revision,
		Payload:         string(entry.Payload.Data),
		Metadata:        string(entry.Metadata.Data),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", eventing.NewSerializationError("encode redis entry failed", err)
	}
	return string(data), nil
}

func decodeEntry(member string) (*eventing.StoredEventEntry, error) {
	var record entryRecord
	if err := json.Unmarshal([]byte(member), &record); err != nil {
		return nil, eventing.NewSerializationError("decode redis entry failed", err)
	}
	return &eventing.StoredEventEntry{
		EventID:        record.EventID,
		AggregateID:    record.AggregateID,
		SequenceNumber: record.SequenceNumber,
		Timestamp:      time.Unix(0, record.TimestampNano),
		Payload: serialization.SerializedObject{
			Type: serialization.SerializedType{Name: record.PayloadType, Revision: record.PayloadRevision},
			Data: []byte(record.Payload),
		},
		Metadata: serialization.SerializedObject{
			Type: serialization.SerializedType{Name: serialization.MetadataTypeName, Revision: 1},
			Data: []byte(record.Metadata),
		},
	}, nil
}
