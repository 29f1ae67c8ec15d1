package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/guregu/dynamo/v2"
)

type jobRow struct {
	ID        string    `dynamo:"id,hash" dynamodbav:"id"`
	Name      string    `dynamo:"name" dynamodbav:"name"`
	Payload   []byte    `dynamo:"payload" dynamodbav:"payload"`
	Status    string    `dynamo:"status" dynamodbav:"status"`
	Total     int       `dynamo:"total" dynamodbav:"total"`
	Done      int       `dynamo:"done" dynamodbav:"done"`
	Warnings  []string  `dynamo:"warnings" dynamodbav:"warnings"`
	Error     string    `dynamo:"error" dynamodbav:"error"`
	CreatedAt time.Time `dynamo:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamo:"updated_at" dynamodbav:"updated_at"`
	Version   int       `dynamo:"version" dynamodbav:"version"` // For optimistic locking
}

// DynamoStatusStore keeps job state in a DynamoDB table keyed by "id".
type DynamoStatusStore struct {
	client    *dynamodb.Client
	tableName string
	table     dynamo.Table
}

func NewDynamoStatusStore(client *dynamodb.Client, tableName string) *DynamoStatusStore {
	db := dynamo.NewFromIface(client)
	return &DynamoStatusStore{client: client, tableName: tableName, table: db.Table(tableName)}
}

func (s *DynamoStatusStore) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	var row jobRow
	err := s.table.Get("id", id.String()).One(ctx, &row)
	if err != nil {
		if errors.Is(err, dynamo.ErrNotFound) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return rowToJob(row)
}

func (s *DynamoStatusStore) Save(ctx context.Context, job *Job) error {
	row := jobToRow(*job)
	row.Version++

	input, err := putJobInput(s.tableName, row)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrConflict
		}
		return fmt.Errorf("failed to put job: %w", err)
	}
	job.Version = row.Version
	return nil
}

// putJobInput writes row only if the stored row is absent or still has the
// version row was read at.
func putJobInput(tableName string, row jobRow) (*dynamodb.PutItemInput, error) {
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	version := expression.Name("version")
	cond := version.AttributeNotExists().Or(version.Equal(expression.Value(row.Version - 1)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build job condition: %w", err)
	}
	return &dynamodb.PutItemInput{
		TableName:                 aws.String(tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

func jobToRow(j Job) jobRow {
	return jobRow{
		ID:        j.ID.String(),
		Name:      j.Name,
		Payload:   j.Payload,
		Status:    string(j.Status),
		Total:     j.Progress.Total,
		Done:      j.Progress.Done,
		Warnings:  j.Warnings,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Version:   j.Version,
	}
}

func rowToJob(r jobRow) (Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Job{}, fmt.Errorf("failed to parse job id: %w", err)
	}
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return Job{
		ID:        id,
		Name:      r.Name,
		Payload:   r.Payload,
		Status:    Status(r.Status),
		Progress:  Progress{Total: r.Total, Done: r.Done},
		Warnings:  warnings,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}, nil
}
