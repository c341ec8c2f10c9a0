// Package registry 提供事件载荷类型注册表，用于事件的序列化与反序列化
//
// 设计说明：不使用注解/反射自动扫描，所有事件类型在构造期显式注册，
// 注册表在运行期只读（注册完成后并发安全）。
package registry

import (
	"fmt"
	"reflect"
	"sync"
)

// PayloadFactory 载荷工厂函数，返回该事件类型的空实例指针
type PayloadFactory func() any

// Registry 事件类型注册表
//
// 维护三份映射：
//   - 类型名 -> 工厂（反序列化入口）
//   - 类型名 -> 当前模式版本（写入时的 revision）
//   - Go 类型 -> 类型名（序列化时的反向查找）
type Registry struct {
	factories map[string]PayloadFactory
	revisions map[string]int
	names     map[reflect.Type]string
	mutex     sync.RWMutex
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]PayloadFactory),
		revisions: make(map[string]int),
		names:     make(map[reflect.Type]string),
	}
}

// Register 注册事件类型（默认模式版本 1）
func (r *Registry) Register(name string, factory PayloadFactory) error {
	return r.RegisterWithRevision(name, 1, factory)
}

// RegisterWithRevision 注册带模式版本的事件类型
func (r *Registry) RegisterWithRevision(name string, revision int, factory PayloadFactory) error {
	if name == "" {
		return fmt.Errorf("event type name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("payload factory cannot be nil for type %s", name)
	}
	if revision <= 0 {
		return fmt.Errorf("revision must be greater than 0 for type %s", name)
	}

	instance := factory()
	if instance == nil {
		return fmt.Errorf("payload factory returned nil for type %s", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("event type already registered: %s", name)
	}

	r.factories[name] = factory
	r.revisions[name] = revision
	r.names[indirectType(instance)] = name
	return nil
}

// MustRegister 注册事件类型（失败 panic）
func (r *Registry) MustRegister(name string, factory PayloadFactory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// MustRegisterWithRevision 注册带版本事件类型（失败 panic）
func (r *Registry) MustRegisterWithRevision(name string, revision int, factory PayloadFactory) {
	if err := r.RegisterWithRevision(name, revision, factory); err != nil {
		panic(err)
	}
}

// NewInstance 按类型名创建空实例，供反序列化填充
func (r *Registry) NewInstance(name string) (any, bool) {
	r.mutex.RLock()
	factory, exists := r.factories[name]
	r.mutex.RUnlock()
	if !exists {
		return nil, false
	}
	return factory(), true
}

// NameFor 反向查找载荷值对应的注册类型名与当前版本
func (r *Registry) NameFor(payload any) (name string, revision int, ok bool) {
	if payload == nil {
		return "", 0, false
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	name, ok = r.names[indirectType(payload)]
	if !ok {
		return "", 0, false
	}
	return name, r.revisions[name], true
}

// Revision 获取事件类型的当前模式版本，未注册时返回 0
func (r *Registry) Revision(name string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.revisions[name]
}

// HasType 检查类型名是否已注册
func (r *Registry) HasType(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// RegisteredTypes 返回所有已注册的类型名
func (r *Registry) RegisteredTypes() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	return types
}

// indirectType 归一化指针类型，注册与查找统一到元素类型
func indirectType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

var globalRegistry = NewRegistry()

// Global 获取全局注册表
func Global() *Registry {
	return globalRegistry
}

// RegisterGlobal 注册到全局注册表
func RegisterGlobal(name string, factory PayloadFactory) error {
	return globalRegistry.Register(name, factory)
}

// MustRegisterGlobal 注册到全局注册表（失败 panic）
func MustRegisterGlobal(name string, factory PayloadFactory) {
	globalRegistry.MustRegister(name, factory)
}
