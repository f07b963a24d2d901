package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	apperrors "github.com/Proton-105/user-sync/internal/errors"
)

// SQSAPI is the subset of the SQS client used by SQSConsumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSConsumer reads user events from an SQS queue.
type SQSConsumer struct {
	client   SQSAPI
	queueURL string
	log      *slog.Logger
}

var _ Consumer = (*SQSConsumer)(nil)

// NewSQSConsumer binds client to the queue at queueURL.
func NewSQSConsumer(client SQSAPI, queueURL string, log *slog.Logger) *SQSConsumer {
	if log == nil {
		log = slog.Default()
	}

	return &SQSConsumer{
		client:   client,
		queueURL: queueURL,
		log:      log.With(slog.String("component", "sqs")),
	}
}

func (c *SQSConsumer) Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, apperrors.NewQueueUnavailableError("receive", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          m.Body,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}

	return messages, nil
}

func (c *SQSConsumer) Delete(ctx context.Context, receiptHandle string) error {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return apperrors.NewQueueUnavailableError("delete", err)
	}

	return nil
}

func (c *SQSConsumer) HealthCheck(ctx context.Context) error {
	_, err := c.ApproximateDepth(ctx)
	return err
}

// ApproximateDepth returns the ApproximateNumberOfMessages attribute of the queue.
func (c *SQSConsumer) ApproximateDepth(ctx context.Context) (int64, error) {
	out, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, apperrors.NewQueueUnavailableError("attributes", err)
	}

	raw, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, nil
	}

	depth, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse queue depth %q: %w", raw, err)
	}

	return depth, nil
}
