package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-settlement/internal/aws"
)

// TokenCache stores gateway bearer tokens outside the process so every
// instance shares them.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, token string, expiresAt time.Time) error
	Invalidate(ctx context.Context, key string) error
}

type tokenRecord struct {
	CacheKey  string `dynamodbav:"cache_key"`
	Token     string `dynamodbav:"token"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // TTL epoch seconds
}

// DynamoTokenCache keeps tokens in a DynamoDB table with a TTL attribute.
type DynamoTokenCache struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoTokenCache returns a cache backed by tableName.
func NewDynamoTokenCache(client aws.DynamoDBAPI, tableName string) *DynamoTokenCache {
	return &DynamoTokenCache{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get returns the cached token for key if it has not expired. DynamoDB TTL
// deletion is lazy, so expiry is checked here as well.
func (c *DynamoTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := c.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("get token: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	var rec tokenRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return "", false, fmt.Errorf("unmarshal token: %w", err)
	}
	if rec.ExpiresAt <= c.nowFunc().Unix() {
		return "", false, nil
	}
	return rec.Token, true, nil
}

func (c *DynamoTokenCache) Put(ctx context.Context, key, token string, expiresAt time.Time) error {
	item, err := attributevalue.MarshalMap(tokenRecord{CacheKey: key, Token: token, ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if _, err := c.client.PutItem(ctx, &dyn.PutItemInput{TableName: &c.tableName, Item: item}); err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (c *DynamoTokenCache) Invalidate(ctx context.Context, key string) error {
	_, err := c.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
