// Package serialization 定义事件载荷与元数据的序列化契约
//
// 存储层只见到 SerializedObject（类型名 + 模式版本 + 字节），
// 具体编码方式由 ISerializer 实现决定，默认提供基于注册表的 JSON 实现。
package serialization

import (
	"encoding/json"
	"fmt"

	"shiji/eventing/registry"
)

// MetadataTypeName 元数据的固定序列化类型名
//
// 元数据不经过注册表与升级链，读取时直接还原为 map[string]any。
const MetadataTypeName = "eventing.metadata"

// SerializedType 序列化类型标识
type SerializedType struct {
	Name     string `json:"name"`
	Revision int    `json:"revision"`
}

// SerializedObject 序列化结果（类型 + 字节）
type SerializedObject struct {
	Type SerializedType `json:"type"`
	Data []byte         `json:"data"`
}

// UnknownSerializedTypeError 未知序列化类型错误
//
// 严格模式下该错误中止回放；容忍模式（全局扫描）下对应条目被跳过。
type UnknownSerializedTypeError struct {
	TypeName string
}

func (e *UnknownSerializedTypeError) Error() string {
	return fmt.Sprintf("unknown serialized type: %s", e.TypeName)
}

// ISerializer 序列化器契约
//
// 实现必须是确定性的且可逆：Serialize 后 Deserialize 得到等价的值。
type ISerializer interface {
	// SerializePayload 序列化事件载荷，类型名与版本取自注册信息
	SerializePayload(payload any) (SerializedObject, error)

	// DeserializePayload 反序列化事件载荷；类型未注册时返回 *UnknownSerializedTypeError
	DeserializePayload(obj SerializedObject) (any, error)

	// SerializeMetadata 序列化事件元数据
	SerializeMetadata(metadata map[string]any) (SerializedObject, error)

	// DeserializeMetadata 反序列化事件元数据
	DeserializeMetadata(obj SerializedObject) (map[string]any, error)
}

// JSONSerializer 基于注册表的 JSON 序列化器
type JSONSerializer struct {
	registry *registry.Registry
}

// NewJSONSerializer 创建 JSON 序列化器；registry 为 nil 时使用全局注册表
func NewJSONSerializer(r *registry.Registry) *JSONSerializer {
	if r == nil {
		r = registry.Global()
	}
	return &JSONSerializer{registry: r}
}

func (s *JSONSerializer) SerializePayload(payload any) (SerializedObject, error) {
	name, revision, ok := s.registry.NameFor(payload)
	if !ok {
		return SerializedObject{}, fmt.Errorf("payload type %T not registered", payload)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return SerializedObject{}, fmt.Errorf("serialize payload %s failed: %w", name, err)
	}
	return SerializedObject{
		Type: SerializedType{Name: name, Revision: revision},
		Data: data,
	}, nil
}

func (s *JSONSerializer) DeserializePayload(obj SerializedObject) (any, error) {
	instance, ok := s.registry.NewInstance(obj.Type.Name)
	if !ok {
		return nil, &UnknownSerializedTypeError{TypeName: obj.Type.Name}
	}
	if err := json.Unmarshal(obj.Data, instance); err != nil {
		return nil, fmt.Errorf("deserialize payload %s failed: %w", obj.Type.Name, err)
	}
	return instance, nil
}

func (s *JSONSerializer) SerializeMetadata(metadata map[string]any) (SerializedObject, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return SerializedObject{}, fmt.Errorf("serialize metadata failed: %w", err)
	}
	return SerializedObject{
		Type: SerializedType{Name: MetadataTypeName, Revision: 1},
		Data: data,
	}, nil
}

func (s *JSONSerializer) DeserializeMetadata(obj SerializedObject) (map[string]any, error) {
	if len(obj.Data) == 0 {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(obj.Data, &metadata); err != nil {
		return nil, fmt.Errorf("deserialize metadata failed: %w", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

// 编译期断言
var _ ISerializer = (*JSONSerializer)(nil)
