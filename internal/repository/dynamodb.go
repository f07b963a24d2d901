package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore persists users in a DynamoDB table keyed by id with a secondary
// index on (email, dob).
type DynamoStore struct {
	client DynamoAPI
	table  string
	index  string
	log    *slog.Logger
}

var _ UserStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoDB-backed UserStore.
func NewDynamoStore(client DynamoAPI, table, index string, log *slog.Logger) *DynamoStore {
	if log == nil {
		log = slog.Default()
	}

	return &DynamoStore{
		client: client,
		table:  table,
		index:  index,
		log:    log,
	}
}

func (s *DynamoStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.log.Error("failed to get user from dynamodb", slog.String("user_id", id), slog.Any("error", err))
		return nil, apperrors.NewStoreUnavailableError("get", err)
	}

	if len(out.Item) == 0 {
		return nil, ErrUserNotFound
	}

	var user domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return nil, apperrors.NewCorruptRecordError(fmt.Sprintf("decode user %s", id), err)
	}

	return &user, nil
}

func (s *DynamoStore) GetBySecondaryKey(ctx context.Context, email, dob string) ([]*domain.User, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("#email = :email AND #dob = :dob"),
		ExpressionAttributeNames: map[string]string{
			"#email": domain.AttrEmail,
			"#dob":   domain.AttrDOB,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
			":dob":   &types.AttributeValueMemberS{Value: dob},
		},
	}

	var users []*domain.User
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			s.log.Error("failed to query users by secondary key", slog.Any("error", err))
			return nil, apperrors.NewStoreUnavailableError("query", err)
		}

		var page []*domain.User
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, apperrors.NewCorruptRecordError("decode users", err)
		}
		users = append(users, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sortByID(users)
	return users, nil
}

func (s *DynamoStore) Put(ctx context.Context, user *domain.User) error {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return apperrors.NewCorruptRecordError(fmt.Sprintf("encode user %s", user.ID), err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		s.log.Error("failed to put user in dynamodb", slog.String("user_id", user.ID), slog.Any("error", err))
		return apperrors.NewStoreUnavailableError("put", err)
	}

	return nil
}

func (s *DynamoStore) UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) error {
	expression, names, values := buildUpdateExpression(fields, updatedAt)
	names["#id"] = domain.AttrID

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       idKey(id),
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrUserNotFound
		}

		s.log.Error("failed to update user in dynamodb", slog.String("user_id", id), slog.Any("error", err))
		return apperrors.NewStoreUnavailableError("update", err)
	}

	return nil
}

func (s *DynamoStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return apperrors.NewStoreUnavailableError("describe", err)
	}
	return nil
}

// buildUpdateExpression produces "SET #a0 = :a0, ..., #updatedAt = :updatedAt" over the
// mutable attributes in fields, in a stable order.
func buildUpdateExpression(fields map[string]string, updatedAt time.Time) (string, map[string]string, map[string]types.AttributeValue) {
	names := make(map[string]string, len(fields)+1)
	values := make(map[string]types.AttributeValue, len(fields)+1)
	clauses := make([]string, 0, len(fields)+1)

	i := 0
	for _, name := range sortedKeys(fields) {
		if !mutableField(name) {
			continue
		}
		placeholder := "a" + strconv.Itoa(i)
		names["#"+placeholder] = name
		values[":"+placeholder] = &types.AttributeValueMemberS{Value: fields[name]}
		clauses = append(clauses, fmt.Sprintf("#%s = :%s", placeholder, placeholder))
		i++
	}

	names["#updatedAt"] = domain.AttrUpdatedAt
	values[":updatedAt"] = &types.AttributeValueMemberS{Value: updatedAt.UTC().Format(time.RFC3339Nano)}
	clauses = append(clauses, "#updatedAt = :updatedAt")

	return "SET " + strings.Join(clauses, ", "), names, values
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		domain.AttrID: &types.AttributeValueMemberS{Value: id},
	}
}
