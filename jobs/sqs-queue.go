package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSQueue lets several server processes share one job queue.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	log      *slog.Logger
}

func NewSQSQueue(client *sqs.Client, queueURL string, log *slog.Logger) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, log: log}
}

func (q *SQSQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to sqs: %w", err)
	}
	return nil
}

// Receive long-polls the queue. A message is deleted once handled, even
// when handling failed, because the job's own status records the failure.
func (q *SQSQueue) Receive(ctx context.Context, handle func(ctx context.Context, msg Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     10,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			q.log.Error("failed to receive messages", "error", err)
			continue
		}

		for _, m := range output.Messages {
			if m.Body == nil || m.ReceiptHandle == nil {
				q.log.Error("received malformed sqs message", "message_id", aws.ToString(m.MessageId))
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(*m.Body), &msg); err != nil {
				q.log.Error("failed to unmarshal message", "error", err)
			} else if err := handle(ctx, msg); err != nil {
				q.log.Error("failed to process job", "job_id", msg.JobID, "error", err)
			}

			_, err := q.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			if err != nil {
				q.log.Error("failed to delete message", "error", err)
			}
		}
	}
}
