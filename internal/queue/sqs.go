package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/metrics"
)

// SQSAPI is the subset of the SQS client used by the consumer and sender.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NewSQSClient builds an SQS client from the AWS settings.
func NewSQSClient(ctx context.Context, cfg config.AWSConfig) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// ConsumerConfig tunes an SQSConsumer.
type ConsumerConfig struct {
	Name              string
	QueueURL          string
	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// SQSConsumer long-polls a queue and hands every delivery to a BatchHandler.
// Successful messages are deleted; failed ones become visible again after the
// visibility timeout.
type SQSConsumer struct {
	client  SQSAPI
	cfg     ConsumerConfig
	handler BatchHandler
	backoff time.Duration
}

// NewSQSConsumer creates a consumer.
// Parameters:
//   - client: SQS client.
//   - cfg: queue url and polling settings.
//   - handler: processes each delivery.
// Returns:
//   - *SQSConsumer: consumer; start it with Serve.
func NewSQSConsumer(client SQSAPI, cfg ConsumerConfig, handler BatchHandler) *SQSConsumer {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	return &SQSConsumer{client: client, cfg: cfg, handler: handler, backoff: 5 * time.Second}
}

// Serve polls until ctx is cancelled. It matches suture.Service.
func (c *SQSConsumer) Serve(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "consumer-"+c.cfg.Name)
	logger.CtxInfo(ctx, "Polling %s", c.cfg.QueueURL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := c.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			logger.CtxError(ctx, "Poll failed: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}
}

// String names the consumer for supervisor logs.
func (c *SQSConsumer) String() string {
	return "sqs-consumer-" + c.cfg.Name
}

// Poll receives one delivery, runs the handler and deletes the successes.
// Returns the number of messages received.
func (c *SQSConsumer) Poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages:   c.cfg.MaxMessages,
		WaitTimeSeconds:       int32(c.cfg.WaitTime / time.Second),
		VisibilityTimeout:     int32(c.cfg.VisibilityTimeout / time.Second),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	msgs := make([]Message, 0, len(out.Messages))
	receipts := make(map[string]*string, len(out.Messages))
	for _, m := range out.Messages {
		id := aws.ToString(m.MessageId)
		attrs := make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			attrs[k] = aws.ToString(v.StringValue)
		}
		msgs = append(msgs, Message{ID: id, Body: []byte(aws.ToString(m.Body)), Attributes: attrs})
		receipts[id] = m.ReceiptHandle
	}

	// the handler must give up before the messages become visible to another consumer
	hctx := ctx
	if d := handlerTimeout(c.cfg.VisibilityTimeout); d > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	failed := make(map[string]bool)
	for _, id := range c.handler.HandleBatch(hctx, msgs) {
		failed[id] = true
	}
	if errors.Is(hctx.Err(), context.DeadlineExceeded) {
		logger.CtxWarn(ctx, "Handler hit the %s visibility deadline", c.cfg.VisibilityTimeout)
	}

	var entries []types.DeleteMessageBatchRequestEntry
	for i, m := range msgs {
		if failed[m.ID] {
			continue
		}
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: receipts[m.ID],
		})
	}
	metrics.QueueMessagesTotal.WithLabelValues(c.cfg.Name, "success").Add(float64(len(entries)))
	metrics.QueueMessagesTotal.WithLabelValues(c.cfg.Name, "failure").Add(float64(len(failed)))

	if len(entries) > 0 {
		// deletes must go through even if the poll context is shutting down
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		res, err := c.client.DeleteMessageBatch(delCtx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(c.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			return len(msgs), fmt.Errorf("delete messages: %w", err)
		}
		for _, f := range res.Failed {
			logger.CtxWarn(ctx, "Delete of entry %s failed: %s", aws.ToString(f.Id), aws.ToString(f.Message))
		}
	}

	if len(failed) > 0 {
		logger.With(logger.Fields{
			logger.FieldCount:  len(msgs),
			logger.FieldErrors: len(failed),
		}).Warn(ctx, "%d of %d messages left for redelivery", len(failed), len(msgs))
	}
	return len(msgs), nil
}

// handlerTimeout is the processing budget for one delivery: the visibility
// timeout minus a margin for acknowledging. Zero means no deadline.
func handlerTimeout(visibility time.Duration) time.Duration {
	if visibility <= 0 {
		return 0
	}
	margin := visibility / 10
	if margin > 30*time.Second {
		margin = 30 * time.Second
	}
	return visibility - margin
}

// SQSSender sends message bodies to one queue.
type SQSSender struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSender creates a sender for queueURL.
func NewSQSSender(client SQSAPI, queueURL string) *SQSSender {
	return &SQSSender{client: client, queueURL: queueURL}
}

// Send enqueues body with string attributes.
func (s *SQSSender) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if len(attrs) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	out, err := s.client.SendMessage(ctx, in)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
