package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "cor-123")
	assert.Equal(t, "cor-123", GetCorrelationID(ctx))
}

func TestCausationID_RoundTrip(t *testing.T) {
	ctx := WithCausationID(context.Background(), "cmd-456")
	assert.Equal(t, "cmd-456", GetCausationID(ctx))
}

func TestGenerateIDs_ArePrefixedAndUnique(t *testing.T) {
	cor := GenerateCorrelationID()
	cau := GenerateCausationID()
	assert.Contains(t, cor, "cor-")
	assert.Contains(t, cau, "cau-")
	assert.NotEqual(t, GenerateCorrelationID(), GenerateCorrelationID())
}

func TestInjectTraceContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "cor-1")
	ctx = WithCausationID(ctx, "cau-1")

	metadata := map[string]any{}
	InjectTraceContext(ctx, metadata)
	assert.Equal(t, "cor-1", metadata[MetadataCorrelationID])
	assert.Equal(t, "cau-1", metadata[MetadataCausationID])

	// 已有键不覆盖
	metadata = map[string]any{MetadataCausationID: "cau-original"}
	InjectTraceContext(ctx, metadata)
	assert.Equal(t, "cau-original", metadata[MetadataCausationID])
}

func TestExtractTraceContext(t *testing.T) {
	metadata := map[string]any{
		MetadataCorrelationID: "cor-9",
		MetadataCausationID:   "cau-9",
	}
	ctx := ExtractTraceContext(context.Background(), metadata)
	assert.Equal(t, "cor-9", GetCorrelationID(ctx))
	assert.Equal(t, "cau-9", GetCausationID(ctx))

	// 空 metadata 不改变 context
	same := ExtractTraceContext(ctx, nil)
	assert.Equal(t, ctx, same)
}
