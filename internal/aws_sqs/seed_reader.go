package aws_sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IliaW/listing-crawler/config"
	"github.com/PuerkitoBio/purell"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// seedMessage is the JSON form of a queued start URL. Plain URL bodies are accepted as well.
type seedMessage struct {
	URL string `json:"url"`
}

// SeedReader drains start URLs from an SQS queue before a run.
type SeedReader struct {
	client sqsAPI
	url    *string
	cfg    *config.SQSConfig
}

func NewSeedReader(ctx context.Context, env string, cfg *config.SQSConfig) (*SeedReader, error) {
	slog.Info("connecting to sqs...")
	c, err := connect(ctx, env, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to sqs: %w", err)
	}
	queueUrl, err := c.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &cfg.QueueName})
	if err != nil {
		return nil, fmt.Errorf("get url of queue %q: %w", cfg.QueueName, err)
	}
	return newSeedReader(c, queueUrl.QueueUrl, cfg), nil
}

func newSeedReader(client sqsAPI, queueUrl *string, cfg *config.SQSConfig) *SeedReader {
	return &SeedReader{client: client, url: queueUrl, cfg: cfg}
}

// ReadSeeds receives messages until the queue returns an empty batch. Received messages are
// deleted whether or not their body is a valid URL.
func (r *SeedReader) ReadSeeds(ctx context.Context) ([]string, error) {
	slog.Info("reading seeds from sqs...", slog.String("queue_url", *r.url))

	getInput := &sqs.ReceiveMessageInput{
		QueueUrl:            r.url,
		MaxNumberOfMessages: r.cfg.MaxNumberOfMessages,
		WaitTimeSeconds:     r.cfg.WaitTimeSeconds,
		VisibilityTimeout:   r.cfg.VisibilityTimeout,
	}

	var seeds []string
	for {
		output, err := r.client.ReceiveMessage(ctx, getInput)
		if err != nil {
			return seeds, fmt.Errorf("receive message from sqs: %w", err)
		}
		if len(output.Messages) == 0 {
			slog.Debug("sqs queue is drained.", slog.Int("seeds", len(seeds)))
			return seeds, nil
		}

		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(output.Messages))
		for _, m := range output.Messages {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            m.MessageId,
				ReceiptHandle: m.ReceiptHandle,
			})
			if m.Body == nil {
				continue
			}
			seed, err := parseSeed(*m.Body)
			if err != nil {
				slog.Warn("skip invalid seed.", slog.String("body", *m.Body), slog.String("err", err.Error()))
				continue
			}
			seeds = append(seeds, seed)
		}

		slog.Debug("deleting messages from sqs.", slog.Int("size", len(entries)))
		_, err = r.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: r.url,
			Entries:  entries,
		})
		if err != nil {
			// messages become visible again after the timeout and may be read by the next run
			slog.Error("failed to delete messages from sqs.", slog.String("err", err.Error()))
		}
	}
}

func parseSeed(body string) (string, error) {
	raw := strings.TrimSpace(body)
	if strings.HasPrefix(raw, "{") {
		var msg seedMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return "", err
		}
		raw = msg.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an absolute http url: %q", raw)
	}
	return purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagSortQuery)
}

func connect(ctx context.Context, env string, cfg *config.SQSConfig) (*sqs.Client, error) {
	sqsConfig, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	if env == "local" {
		sqsConfig.BaseEndpoint = &cfg.AwsBaseEndpoint // for LocalStack
		sqsConfig.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
	}

	return sqs.NewFromConfig(sqsConfig), nil
}
