// Package backend opens the document store selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"cloud.google.com/go/datastore"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
	"github.com/Lucaslls20/Lista-de-Compras/internal/config"
	"github.com/Lucaslls20/Lista-de-Compras/stream"
)

// localRegion is used against a custom endpoint when no region is configured.
const localRegion = "us-east-1"

// Backend is an opened document store plus the stream pollers that feed it
// changes made by other clients.
type Backend struct {
	Store docstore.Store

	pollers []func(ctx context.Context) error
	closer  func() error
	logger  *slog.Logger
}

// Open connects to the backend named in cfg.Backend.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dcfg := docstore.DefaultConfig()
	dcfg.TablePrefix = cfg.TablePrefix
	dcfg.IndexLag = cfg.IndexLag

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory backend, data is lost on exit")
		return &Backend{Store: docstore.NewMemory(dcfg), logger: logger}, nil

	case config.BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("backend: datastore client: %w", err)
		}
		s := docstore.NewDatastore(client, dcfg)
		return &Backend{Store: s, closer: s.Close, logger: logger}, nil

	case config.BackendDynamoDB:
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d := docstore.NewDynamo(dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		}), dcfg)

		b := &Backend{Store: d, logger: logger}
		if len(cfg.StreamARNs) > 0 {
			streams := dynamodbstreams.NewFromConfig(awsCfg, func(o *dynamodbstreams.Options) {
				if cfg.DynamoEndpoint != "" {
					o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
				}
			})
			poller := stream.NewPoller(streams, d.Feed(), d.Config(), stream.PollerConfig{
				Interval: cfg.StreamPollInterval,
			}, logger)
			for _, arn := range cfg.StreamARNs {
				b.pollers = append(b.pollers, func(ctx context.Context) error {
					return poller.Run(ctx, arn)
				})
			}
		}
		return b, nil
	}
	return nil, fmt.Errorf("backend: unknown backend %q", cfg.Backend)
}

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	if cfg.DynamoEndpoint != "" {
		if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
			opts = append(opts, awsconfig.WithRegion(localRegion))
		}
		if cfg.AWSProfile == "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
			// DynamoDB Local accepts any credentials.
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("local", "local", ""),
			))
		}
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("backend: load AWS config: %w", err)
	}
	return awsCfg, nil
}

// RunStreams polls every configured stream until ctx is done. It returns
// immediately when there is nothing to poll.
func (b *Backend) RunStreams(ctx context.Context) error {
	if len(b.pollers) == 0 {
		return nil
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, run := range b.pollers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				b.logger.Error("stream poller stopped", "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close releases the backend's client, if it holds one.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
