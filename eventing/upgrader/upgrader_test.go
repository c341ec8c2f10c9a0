package upgrader

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiji/eventing"
	"shiji/eventing/registry"
	"shiji/eventing/serialization"
)

type customerMoved struct {
	Street string `json:"street"`
	City   string `json:"city"`
}

type customerRelocated struct {
	Address string `json:"address"`
}

// renameUpcaster customer.moved v1 -> customer.relocated v1
type renameUpcaster struct{}

func (renameUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == "customer.moved" && t.Revision == 1
}

func (renameUpcaster) Upcast(obj serialization.SerializedObject) ([]serialization.SerializedObject, error) {
	var old customerMoved
	if err := json.Unmarshal(obj.Data, &old); err != nil {
		return nil, err
	}
	data, err := json.Marshal(customerRelocated{Address: old.Street + ", " + old.City})
	if err != nil {
		return nil, err
	}
	return []serialization.SerializedObject{{
		Type: serialization.SerializedType{Name: "customer.relocated", Revision: 1},
		Data: data,
	}}, nil
}

// splitUpcaster 把一个历史事件拆成两个当前事件
type splitUpcaster struct{}

func (splitUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == "customer.signed_up" && t.Revision == 1
}

func (splitUpcaster) Upcast(obj serialization.SerializedObject) ([]serialization.SerializedObject, error) {
	relocated := serialization.SerializedObject{
		Type: serialization.SerializedType{Name: "customer.relocated", Revision: 1},
		Data: []byte(`{"address":"unknown"}`),
	}
	return []serialization.SerializedObject{withType(obj, "customer.created"), relocated}, nil
}

func withType(obj serialization.SerializedObject, name string) serialization.SerializedObject {
	obj.Type.Name = name
	return obj
}

// dropUpcaster 丢弃已废弃的事件类型
type dropUpcaster struct{}

func (dropUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == "customer.pinged"
}

func (dropUpcaster) Upcast(serialization.SerializedObject) ([]serialization.SerializedObject, error) {
	return nil, nil
}

func newPipeline(t *testing.T) (serialization.ISerializer, *registry.Registry) {
	t.Helper()
	r := registry.NewRegistry()
	require.NoError(t, r.Register("customer.relocated", func() any { return &customerRelocated{} }))
	return serialization.NewJSONSerializer(r), r
}

func entryWith(t *testing.T, typeName string, revision int, payload any) *eventing.StoredEventEntry {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &eventing.StoredEventEntry{
		EventID:        "evt-1",
		AggregateID:    "customer-1",
		SequenceNumber: 5,
		Timestamp:      time.Unix(0, 1700000000000000000),
		Payload: serialization.SerializedObject{
			Type: serialization.SerializedType{Name: typeName, Revision: revision},
			Data: data,
		},
		Metadata: mustMetadata(t, map[string]any{"source": "import"}),
	}
}

func mustMetadata(t *testing.T, md map[string]any) serialization.SerializedObject {
	t.Helper()
	data, err := json.Marshal(md)
	require.NoError(t, err)
	return serialization.SerializedObject{
		Type: serialization.SerializedType{Name: serialization.MetadataTypeName, Revision: 1},
		Data: data,
	}
}

func TestChain_RenamesOldShape(t *testing.T) {
	serializer, _ := newPipeline(t)
	chain := NewChain(renameUpcaster{})

	entry := entryWith(t, "customer.moved", 1, customerMoved{Street: "长安街1号", City: "北京"})
	events, err := UpcastAndDeserialize(entry, serializer, chain, false)
	require.NoError(t, err)
	require.Len(t, events, 1)

	evt := events[0]
	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, "customer-1", evt.AggregateID)
	assert.Equal(t, uint64(5), evt.SequenceNumber)
	assert.Equal(t, entry.Timestamp, evt.Timestamp)
	assert.Equal(t, "import", evt.Metadata["source"])
	require.Equal(t, &customerRelocated{Address: "长安街1号, 北京"}, evt.Payload)
}

func TestChain_EmptyChainPassesThrough(t *testing.T) {
	serializer, _ := newPipeline(t)

	entry := entryWith(t, "customer.relocated", 1, customerRelocated{Address: "somewhere"})
	events, err := UpcastAndDeserialize(entry, serializer, Empty(), false)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestChain_SplitProducesMultipleEvents(t *testing.T) {
	r := registry.NewRegistry()
	require.NoError(t, r.Register("customer.relocated", func() any { return &customerRelocated{} }))
	require.NoError(t, r.Register("customer.created", func() any { return &customerRelocated{} }))
	serializer := serialization.NewJSONSerializer(r)

	entry := entryWith(t, "customer.signed_up", 1, customerRelocated{Address: "a"})
	events, err := UpcastAndDeserialize(entry, serializer, NewChain(splitUpcaster{}), false)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// 拆分出的事件共享聚合标识与序列号，但消息 ID 不同
	assert.Equal(t, "evt-1", events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, events[0].SequenceNumber, events[1].SequenceNumber)
}

func TestChain_DropYieldsNoEvents(t *testing.T) {
	serializer, _ := newPipeline(t)

	entry := entryWith(t, "customer.pinged", 1, map[string]any{})
	events, err := UpcastAndDeserialize(entry, serializer, NewChain(dropUpcaster{}), false)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUpcastAndDeserialize_UnknownType(t *testing.T) {
	serializer, _ := newPipeline(t)

	entry := entryWith(t, "legacy.removed", 1, map[string]any{})

	// 严格模式：致命错误
	_, err := UpcastAndDeserialize(entry, serializer, Empty(), false)
	require.Error(t, err)

	// 容忍模式：跳过
	events, err := UpcastAndDeserialize(entry, serializer, Empty(), true)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUpcastAndDeserialize_UpcasterFailure(t *testing.T) {
	serializer, _ := newPipeline(t)
	chain := NewChain(renameUpcaster{})

	entry := entryWith(t, "customer.moved", 1, customerMoved{})
	entry.Payload.Data = []byte("{not json")

	_, err := UpcastAndDeserialize(entry, serializer, chain, false)
	require.Error(t, err)

	events, err := UpcastAndDeserialize(entry, serializer, chain, true)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUpcastAndDeserialize_CorruptKnownTypePropagates(t *testing.T) {
	serializer, _ := newPipeline(t)

	entry := entryWith(t, "customer.relocated", 1, customerRelocated{})
	entry.Payload.Data = []byte("{not json")

	// 已注册类型的数据损坏在容忍模式下同样传播
	_, err := UpcastAndDeserialize(entry, serializer, Empty(), true)
	require.Error(t, err)
}
