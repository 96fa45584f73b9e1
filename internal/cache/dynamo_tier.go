package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/habit-coach/internal/domain"
)

// DynamoAPI is the part of *dynamodb.Client the tier uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is one cached result. TTL is the table's expiry attribute;
// DynamoDB deletes lazily so reads also check it.
type dynamoItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	Data         string `dynamodbav:"Data"`
	ModelVersion string `dynamodbav:"ModelVersion"`
	ExpiresAt    string `dynamodbav:"ExpiresAt"`
	TTL          int64  `dynamodbav:"TTL,omitempty"`
}

// DynamoTier stores entries under PK=USER#<id>, SK=PRED#<type>.
type DynamoTier struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoTier wraps an existing client.
func NewDynamoTier(client DynamoAPI, table string) *DynamoTier {
	return &DynamoTier{client: client, table: table, now: time.Now}
}

// NewDynamoTierFromConfig loads the default AWS config for region, using
// the shared profile when one is named.
func NewDynamoTierFromConfig(ctx context.Context, table, region, profile string) (*DynamoTier, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewDynamoTier(dynamodb.NewFromConfig(cfg), table), nil
}

// WithClock overrides the clock used for the lazy expiry check.
func (t *DynamoTier) WithClock(now func() time.Time) *DynamoTier {
	t.now = now
	return t
}

func (t *DynamoTier) Name() string { return "dynamodb" }

func dynamoPK(userID string) string { return "USER#" + userID }

func dynamoSK(pt domain.PredictionType) string { return "PRED#" + string(pt) }

func dynamoKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (t *DynamoTier) Get(ctx context.Context, userID string, pt domain.PredictionType) (*Entry, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.table),
		Key:       dynamoKey(dynamoPK(userID), dynamoSK(pt)),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	if item.TTL > 0 && t.now().Unix() >= item.TTL {
		return nil, nil
	}
	r, err := DecodeResult([]byte(item.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry: %w", err)
	}
	return &Entry{Result: r, ExpiresAt: expiresAt}, nil
}

func (t *DynamoTier) Set(ctx context.Context, e *Entry) error {
	data, err := EncodeResult(e.Result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	item := dynamoItem{
		PK:           dynamoPK(e.Result.UserID),
		SK:           dynamoSK(e.Result.Type),
		Data:         string(data),
		ModelVersion: e.Result.ModelVersion,
		ExpiresAt:    e.ExpiresAt.UTC().Format(time.RFC3339Nano),
		TTL:          e.ExpiresAt.Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

func (t *DynamoTier) DeleteUser(ctx context.Context, userID string) error {
	out, err := t.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(t.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: dynamoPK(userID)},
		},
	})
	if err != nil {
		return fmt.Errorf("querying DynamoDB: %w", err)
	}
	for _, raw := range out.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		if err := t.delete(ctx, item.PK, item.SK); err != nil {
			return err
		}
	}
	return nil
}

// DeleteVersion scans for items tagged with version and deletes them.
func (t *DynamoTier) DeleteVersion(ctx context.Context, version string) (int, error) {
	removed := 0
	var start map[string]types.AttributeValue
	for {
		out, err := t.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(t.table),
			FilterExpression:     aws.String("ModelVersion = :v"),
			ProjectionExpression: aws.String("PK, SK"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberS{Value: version},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return removed, fmt.Errorf("scanning DynamoDB: %w", err)
		}
		for _, raw := range out.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			if !strings.HasPrefix(item.PK, "USER#") {
				continue
			}
			if err := t.delete(ctx, item.PK, item.SK); err != nil {
				return removed, err
			}
			removed++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return removed, nil
		}
		start = out.LastEvaluatedKey
	}
}

// PurgeExpired is a no-op: the table's TTL attribute handles it.
func (t *DynamoTier) PurgeExpired(context.Context, time.Time) (int, error) { return 0, nil }

func (t *DynamoTier) delete(ctx context.Context, pk, sk string) error {
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.table),
		Key:       dynamoKey(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("deleting item from DynamoDB: %w", err)
	}
	return nil
}
