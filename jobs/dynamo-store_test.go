package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutJobInputChecksPreviousVersion(t *testing.T) {
	at := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	job := Job{
		ID:        uuid.New(),
		Name:      "autotest_specs",
		Payload:   []byte(`{"assignment_id":3}`),
		Status:    Running,
		Progress:  Progress{Total: 2, Done: 1},
		Warnings:  []string{"criterion missing"},
		CreatedAt: at,
		UpdatedAt: at,
		Version:   2,
	}
	row := jobToRow(job)
	row.Version++

	input, err := putJobInput("jobs", row)
	require.NoError(t, err)
	assert.Equal(t, "jobs", *input.TableName)

	require.NotNil(t, input.ConditionExpression)
	cond := *input.ConditionExpression
	assert.Contains(t, cond, "attribute_not_exists")
	assert.Contains(t, strings.ToUpper(cond), " OR ")
	assert.Contains(t, input.ExpressionAttributeNames, "#0")
	assert.Equal(t, "version", input.ExpressionAttributeNames["#0"])

	var previous []string
	for _, v := range input.ExpressionAttributeValues {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			previous = append(previous, n.Value)
		}
	}
	assert.Equal(t, []string{"2"}, previous)

	version, ok := input.Item["version"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "3", version.Value)
	id, ok := input.Item["id"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, job.ID.String(), id.Value)

	var back jobRow
	require.NoError(t, attributevalue.UnmarshalMap(input.Item, &back))
	got, err := rowToJob(back)
	require.NoError(t, err)
	job.Version = 3
	assert.Equal(t, job, got)
}
