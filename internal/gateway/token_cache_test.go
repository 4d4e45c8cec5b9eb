package gateway

import (
	"context"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenTableMock keeps items keyed by cache_key.
type tokenTableMock struct {
	items map[string]map[string]types.AttributeValue
}

func (m *tokenTableMock) key(k map[string]types.AttributeValue) string {
	return k["cache_key"].(*types.AttributeValueMemberS).Value
}

func (m *tokenTableMock) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.items[m.key(in.Item)] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *tokenTableMock) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	return &dyn.GetItemOutput{Item: m.items[m.key(in.Key)]}, nil
}

func (m *tokenTableMock) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return &dyn.UpdateItemOutput{}, nil
}

func (m *tokenTableMock) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	delete(m.items, m.key(in.Key))
	return &dyn.DeleteItemOutput{}, nil
}

func TestDynamoTokenCache_RoundTripAndExpiry(t *testing.T) {
	mock := &tokenTableMock{items: map[string]map[string]types.AttributeValue{}}
	cache := NewDynamoTokenCache(mock, "gateway-tokens")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "sandbox:ops", "tok", now.Add(TokenTTL)))

	tok, ok, err := cache.Get(ctx, "sandbox:ops")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	cache.nowFunc = func() time.Time { return now.Add(51 * time.Minute) }
	_, ok, err = cache.Get(ctx, "sandbox:ops")
	require.NoError(t, err)
	assert.False(t, ok, "expired tokens are ignored before TTL deletion runs")

	require.NoError(t, cache.Invalidate(ctx, "sandbox:ops"))
	assert.Empty(t, mock.items)
}

func TestDynamoTokenCache_Miss(t *testing.T) {
	cache := NewDynamoTokenCache(&tokenTableMock{items: map[string]map[string]types.AttributeValue{}}, "gateway-tokens")
	_, ok, err := cache.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
