package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderCreated struct {
	OrderID string `json:"order_id"`
}

type orderShipped struct {
	OrderID string `json:"order_id"`
	Carrier string `json:"carrier"`
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("order.created", func() any { return &orderCreated{} }))
	require.NoError(t, r.RegisterWithRevision("order.shipped", 3, func() any { return &orderShipped{} }))

	require.True(t, r.HasType("order.created"))
	assert.Equal(t, 1, r.Revision("order.created"))
	assert.Equal(t, 3, r.Revision("order.shipped"))
	assert.Equal(t, 0, r.Revision("order.cancelled"))

	instance, ok := r.NewInstance("order.shipped")
	require.True(t, ok)
	require.IsType(t, &orderShipped{}, instance)

	_, ok = r.NewInstance("order.cancelled")
	assert.False(t, ok)
}

func TestRegistry_NameForNormalizesPointers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterWithRevision("order.created", 2, func() any { return &orderCreated{} }))

	// 指针与值应解析到同一个注册项
	name, rev, ok := r.NameFor(&orderCreated{OrderID: "o-1"})
	require.True(t, ok)
	assert.Equal(t, "order.created", name)
	assert.Equal(t, 2, rev)

	name, rev, ok = r.NameFor(orderCreated{OrderID: "o-1"})
	require.True(t, ok)
	assert.Equal(t, "order.created", name)
	assert.Equal(t, 2, rev)

	_, _, ok = r.NameFor(orderShipped{})
	assert.False(t, ok)
	_, _, ok = r.NameFor(nil)
	assert.False(t, ok)
}

func TestRegistry_RejectsInvalidRegistrations(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", func() any { return &orderCreated{} }))
	assert.Error(t, r.Register("order.created", nil))
	assert.Error(t, r.RegisterWithRevision("order.created", 0, func() any { return &orderCreated{} }))
	assert.Error(t, r.Register("order.nil", func() any { return nil }))

	require.NoError(t, r.Register("order.created", func() any { return &orderCreated{} }))
	assert.Error(t, r.Register("order.created", func() any { return &orderCreated{} }))
}
