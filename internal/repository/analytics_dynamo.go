package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/domain"
)

// ErrAnalyticsRecordNotFound is returned by Get when no record has the event id.
var ErrAnalyticsRecordNotFound = errors.New("analytics record not found")

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoAnalyticsStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoAnalyticsStore writes analytics records to a DynamoDB table keyed by
// eventId. The table's TTL attribute is "ttl".
type DynamoAnalyticsStore struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoAnalyticsStore creates a store for table.
// Parameters:
//   - client: DynamoDB client (or a fake in tests).
//   - table: table name.
// Returns:
//   - *DynamoAnalyticsStore: store bound to table.
func NewDynamoAnalyticsStore(client DynamoDBAPI, table string) *DynamoAnalyticsStore {
	return &DynamoAnalyticsStore{client: client, table: table}
}

// NewDynamoDBClient builds a DynamoDB client from the AWS settings.
func NewDynamoDBClient(ctx context.Context, cfg config.AWSConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// PutIfAbsent stores record unless its eventId already exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - record: record to write.
// Returns:
//   - error: *domain.DuplicateError if the event id is taken, a
//     *domain.StoreError for any other failure.
func (s *DynamoAnalyticsStore) PutIfAbsent(ctx context.Context, record *domain.AnalyticsRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return domain.NewStoreError("marshal analytics record", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(eventId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return &domain.DuplicateError{Key: record.EventID}
		}
		return domain.NewStoreError("put analytics record", err)
	}
	return nil
}

// Get retrieves a record by event id.
func (s *DynamoAnalyticsStore) Get(ctx context.Context, eventID string) (*domain.AnalyticsRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"eventId": &types.AttributeValueMemberS{Value: eventID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, domain.NewStoreError("get analytics record", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrAnalyticsRecordNotFound
	}

	var record domain.AnalyticsRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, domain.NewStoreError("unmarshal analytics record", err)
	}
	return &record, nil
}
