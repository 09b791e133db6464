package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table keyed by
// ownerId (HASH) and imageId (RANGE).
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// --- Internal helpers ---

func imageKey(ownerID, imageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ownerId": &types.AttributeValueMemberS{Value: ownerID},
		"imageId": &types.AttributeValueMemberS{Value: imageID},
	}
}

func unixN(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// transition runs an UpdateItem that moves the record to next. The update
// expression must SET #s = :next; the condition over allowed predecessors
// is added here.
func (s *DynamoStore) transition(ctx context.Context, ownerID, imageID string, next Status,
	update string, names map[string]string, values map[string]types.AttributeValue) error {

	cond := "attribute_exists(imageId) AND #s IN ("
	for i, p := range predecessors(next) {
		ph := ":from" + strconv.Itoa(i)
		if i > 0 {
			cond += ", "
		}
		cond += ph
		values[ph] = &types.AttributeValueMemberS{Value: string(p)}
	}
	cond += ")"

	names["#s"] = "status" // "status" is a DynamoDB reserved word
	values[":next"] = &types.AttributeValueMemberS{Value: string(next)}
	values[":now"] = unixN(s.now())

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       imageKey(ownerID, imageID),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("UpdateItem ownerId=%s imageId=%s -> %s: %w", ownerID, imageID, next, ErrTransitionRejected)
		}
		return fmt.Errorf("UpdateItem ownerId=%s imageId=%s -> %s: %w", ownerID, imageID, next, err)
	}
	return nil
}

// --- Record operations ---

func (s *DynamoStore) CreateImage(ctx context.Context, rec *ImageRecord) error {
	now := s.now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.Status = StatusPending

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal image %s/%s: %w", rec.OwnerID, rec.ImageID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(imageId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("PutItem ownerId=%s imageId=%s: %w", rec.OwnerID, rec.ImageID, ErrExists)
		}
		return fmt.Errorf("PutItem ownerId=%s imageId=%s: %w", rec.OwnerID, rec.ImageID, err)
	}

	log.Debug().Str("ownerId", rec.OwnerID).Str("imageId", rec.ImageID).Msg("Image record created")
	return nil
}

func (s *DynamoStore) GetImage(ctx context.Context, ownerID, imageID string) (*ImageRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       imageKey(ownerID, imageID),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem ownerId=%s imageId=%s: %w", ownerID, imageID, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec ImageRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal ownerId=%s imageId=%s: %w", ownerID, imageID, err)
	}
	return &rec, nil
}

func (s *DynamoStore) ListImages(ctx context.Context, ownerID string) ([]*ImageRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("ownerId = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: ownerID},
		},
	}

	var records []*ImageRecord

	// Handle pagination: DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query ownerId=%s: %w", ownerID, err)
		}
		for _, item := range result.Items {
			var rec ImageRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				log.Warn().Err(err).Str("ownerId", ownerID).Msg("Failed to unmarshal image record, skipping")
				continue
			}
			records = append(records, &rec)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	slices.SortStableFunc(records, func(a, b *ImageRecord) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	return records, nil
}

func (s *DynamoStore) MarkProcessing(ctx context.Context, ownerID, imageID string) error {
	err := s.transition(ctx, ownerID, imageID, StatusProcessing,
		"SET #s = :next, updatedAt = :now",
		map[string]string{}, map[string]types.AttributeValue{})
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	log.Debug().Str("ownerId", ownerID).Str("imageId", imageID).Msg("Image marked processing")
	return nil
}

func (s *DynamoStore) SetExecution(ctx context.Context, ownerID, imageID, executionARN string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 imageKey(ownerID, imageID),
		UpdateExpression:    aws.String("SET executionArn = :arn, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(imageId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":arn": &types.AttributeValueMemberS{Value: executionARN},
			":now": unixN(s.now()),
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("set execution ownerId=%s imageId=%s: %w", ownerID, imageID, ErrTransitionRejected)
		}
		return fmt.Errorf("set execution ownerId=%s imageId=%s: %w", ownerID, imageID, err)
	}
	return nil
}

func (s *DynamoStore) CompleteImage(ctx context.Context, ownerID, imageID string, results *analysis.Results) error {
	doc, err := analysis.Document(results)
	if err != nil {
		return fmt.Errorf("complete image %s/%s: %w", ownerID, imageID, err)
	}
	attrs, err := decimalMap(doc)
	if err != nil {
		return fmt.Errorf("complete image %s/%s: convert results: %w", ownerID, imageID, err)
	}

	err = s.transition(ctx, ownerID, imageID, StatusCompleted,
		"SET #s = :next, #r = :results, updatedAt = :now REMOVE #e",
		map[string]string{"#r": "results", "#e": "error"},
		map[string]types.AttributeValue{":results": &types.AttributeValueMemberM{Value: attrs}})
	if err != nil {
		return fmt.Errorf("complete image: %w", err)
	}

	log.Debug().
		Str("ownerId", ownerID).
		Str("imageId", imageID).
		Int("stages", results.StageCount()).
		Msg("Image results persisted")
	return nil
}

func (s *DynamoStore) FailImage(ctx context.Context, ownerID, imageID, message string) error {
	err := s.transition(ctx, ownerID, imageID, StatusFailed,
		"SET #s = :next, #e = :err, updatedAt = :now",
		map[string]string{"#e": "error"},
		map[string]types.AttributeValue{":err": &types.AttributeValueMemberS{Value: message}})
	if err != nil {
		return fmt.Errorf("fail image: %w", err)
	}

	log.Debug().Str("ownerId", ownerID).Str("imageId", imageID).Str("error", message).Msg("Image marked failed")
	return nil
}

func (s *DynamoStore) DeleteImage(ctx context.Context, ownerID, imageID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       imageKey(ownerID, imageID),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem ownerId=%s imageId=%s: %w", ownerID, imageID, err)
	}

	log.Debug().Str("ownerId", ownerID).Str("imageId", imageID).Msg("Image record deleted")
	return nil
}
