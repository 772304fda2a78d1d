package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table with a string
// partition key "key" and TTL enabled on "ttl" (epoch seconds).
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
	log       *zap.Logger
}

type dynamoItem struct {
	Key       string `dynamodbav:"key"`
	Value     []byte `dynamodbav:"value,omitempty"`
	Count     int64  `dynamodbav:"count,omitempty"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // unix millis
	TTL       int64  `dynamodbav:"ttl"`        // unix seconds, for DynamoDB TTL sweeps
}

// NewDynamoStore loads the default AWS configuration and returns a store
// bound to tableName.
func NewDynamoStore(ctx context.Context, tableName string, log *zap.Logger) (*DynamoStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("%w: dynamodb table name is not set", models.ErrMisconfigured)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, log), nil
}

// NewDynamoStoreWithClient wraps an existing client.
func NewDynamoStoreWithClient(client DynamoAPI, tableName string, log *zap.Logger) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now, log: log.Named("dynamodb")}
}

func (s *DynamoStore) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: k}}
}

func (s *DynamoStore) getItem(ctx context.Context, key string) (*dynamoItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	// TTL sweeps lag by up to days; expiry is enforced on read.
	if item.ExpiresAt <= s.now().UnixMilli() {
		return nil, nil
	}
	return &item, nil
}

// Get returns the live value stored under key.
func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := s.getItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, models.ErrNotFound
	}
	return item.Value, nil
}

// Put stores value under key.
func (s *DynamoStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	exp := s.now().Add(ttl)
	item, err := attributevalue.MarshalMap(dynamoItem{
		Key:       key,
		Value:     value,
		ExpiresAt: exp.UnixMilli(),
		TTL:       exp.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// Count returns the live counter value for key.
func (s *DynamoStore) Count(ctx context.Context, key string) (int64, error) {
	item, err := s.getItem(ctx, key)
	if err != nil || item == nil {
		return 0, err
	}
	return item.Count, nil
}

// IncrementBelow uses a conditional UpdateItem so the check and the write
// are a single server-side operation.
func (s *DynamoStore) IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	now := s.now()
	exp := now.Add(ttl)

	count, err := s.update(ctx, key, &dynamodb.UpdateItemInput{
		UpdateExpression: aws.String("ADD #count :one SET #expires_at = if_not_exists(#expires_at, :exp), #ttl = if_not_exists(#ttl, :ttl)"),
		ConditionExpression: aws.String(
			"attribute_not_exists(#count) OR (#count < :limit AND #expires_at > :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":limit": &types.AttributeValueMemberN{Value: strconv.FormatInt(limit, 10)},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":exp":   &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.UnixMilli(), 10)},
			":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.Unix(), 10)},
		},
	})
	if err == nil {
		return count, true, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return 0, false, err
	}

	// Either the counter is at the limit, or it has expired but not yet been
	// swept. Restart an expired counter conditionally so two racing resets
	// cannot both win.
	count, err = s.update(ctx, key, &dynamodb.UpdateItemInput{
		UpdateExpression:    aws.String("SET #count = :one, #expires_at = :exp, #ttl = :ttl"),
		ConditionExpression: aws.String("#expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.UnixMilli(), 10)},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp.Unix(), 10)},
		},
	})
	if err == nil {
		return count, true, nil
	}
	if errors.As(err, &ccf) {
		current, cerr := s.Count(ctx, key)
		return current, false, cerr
	}
	return 0, false, err
}

func (s *DynamoStore) update(ctx context.Context, key string, in *dynamodb.UpdateItemInput) (int64, error) {
	in.TableName = aws.String(s.tableName)
	in.Key = s.key(key)
	in.ExpressionAttributeNames = map[string]string{
		"#count":      "count",
		"#expires_at": "expires_at",
		"#ttl":        "ttl",
	}
	in.ReturnValues = types.ReturnValueUpdatedNew

	out, err := s.client.UpdateItem(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("failed to update item: %w", err)
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("failed to unmarshal update: %w", err)
	}
	return item.Count, nil
}

// DeleteExpired is a no-op: DynamoDB TTL removes expired items.
func (s *DynamoStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

// Close is a no-op; the SDK client holds no resources needing release.
func (s *DynamoStore) Close() error {
	return nil
}
