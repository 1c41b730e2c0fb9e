package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

// StreamsAPI is the subset of *dynamodbstreams.Client used by Poller.
type StreamsAPI interface {
	DescribeStream(ctx context.Context, params *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, params *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval is the pause between GetRecords calls that return nothing.
	// Default: 1s
	Interval time.Duration

	// MaxElapsed bounds how long transient errors are retried before a
	// shard reader gives up.
	// Default: 2m
	MaxElapsed time.Duration

	// Rediscover is how often the stream is described again to find shards
	// created since the last look. A shard closing also triggers a look.
	// Default: 30s
	Rediscover time.Duration
}

// Poller reads DynamoDB Streams directly and publishes the changes it sees.
// It is the long-running counterpart of Relay for deployments without a
// Lambda trigger.
type Poller struct {
	client    StreamsAPI
	publisher Publisher
	config    docstore.Config
	poll      PollerConfig
	logger    *slog.Logger
}

// NewPoller creates a stream poller.
func NewPoller(client StreamsAPI, p Publisher, config docstore.Config, poll PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if config.IDAttribute == "" {
		config.IDAttribute = "id"
	}
	if poll.Interval <= 0 {
		poll.Interval = time.Second
	}
	if poll.MaxElapsed <= 0 {
		poll.MaxElapsed = 2 * time.Minute
	}
	if poll.Rediscover <= 0 {
		poll.Rediscover = 30 * time.Second
	}
	return &Poller{
		client:    client,
		publisher: p,
		config:    config,
		poll:      poll,
		logger:    logger,
	}
}

// Run tails streamARN until ctx is cancelled, returning nil on
// cancellation. Shards open at startup are read from their latest
// position. Shards that appear later, such as the children created when a
// shard rolls over, are read from their start so no record is skipped.
// Run returns early only when a shard cannot be read or the stream can no
// longer be described.
func (p *Poller) Run(ctx context.Context, streamARN string) error {
	table, shards, err := p.describe(ctx, streamARN)
	if err != nil {
		return err
	}
	collection, ok := p.config.Collection(table)
	if !ok {
		return fmt.Errorf("stream %s: table %q is outside prefix %q", streamARN, table, p.config.TablePrefix)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	closed := make(chan string)
	failed := make(chan error, 1)
	known := make(map[string]bool, len(shards))
	start := func(shardID string, from streamtypes.ShardIteratorType) {
		known[shardID] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.tail(ctx, streamARN, shardID, collection, from); err != nil {
				select {
				case failed <- err:
				default:
				}
				return
			}
			select {
			case closed <- shardID:
			case <-ctx.Done():
			}
		}()
	}

	var open int
	for _, s := range shards {
		id := aws.ToString(s.ShardId)
		if isClosed(s) {
			known[id] = true
			continue
		}
		open++
		start(id, streamtypes.ShardIteratorTypeLatest)
	}
	p.logger.Info("polling stream",
		"stream", streamARN,
		"collection", collection,
		"shards", open,
	)

	ticker := time.NewTicker(p.poll.Rediscover)
	defer ticker.Stop()

	var runErr error
	for runErr == nil {
		select {
		case <-ctx.Done():
		case runErr = <-failed:
			continue
		case <-closed:
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			break
		}
		runErr = p.discover(ctx, streamARN, known, start)
	}

	cancel()
	wg.Wait()
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// discover starts a reader for every shard not seen before.
func (p *Poller) discover(ctx context.Context, streamARN string, known map[string]bool, start func(string, streamtypes.ShardIteratorType)) error {
	var shards []streamtypes.Shard
	err := p.retry(ctx, "describe stream", streamARN, func() error {
		var err error
		_, shards, err = p.describe(ctx, streamARN)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for _, s := range shards {
		id := aws.ToString(s.ShardId)
		if known[id] {
			continue
		}
		p.logger.Info("stream shard discovered",
			"shard", id,
			"parent", aws.ToString(s.ParentShardId),
		)
		start(id, streamtypes.ShardIteratorTypeTrimHorizon)
	}
	return nil
}

func isClosed(s streamtypes.Shard) bool {
	return s.SequenceNumberRange != nil && s.SequenceNumberRange.EndingSequenceNumber != nil
}

// describe returns the stream's table and all of its shards.
func (p *Poller) describe(ctx context.Context, streamARN string) (string, []streamtypes.Shard, error) {
	var (
		table  string
		shards []streamtypes.Shard
		start  *string
	)
	for {
		out, err := p.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(streamARN),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return "", nil, fmt.Errorf("describe stream %s: %w", streamARN, err)
		}
		desc := out.StreamDescription
		if desc == nil {
			return "", nil, fmt.Errorf("describe stream %s: empty description", streamARN)
		}
		table = aws.ToString(desc.TableName)
		shards = append(shards, desc.Shards...)
		if desc.LastEvaluatedShardId == nil {
			break
		}
		start = desc.LastEvaluatedShardId
	}
	if table == "" {
		table = tableFromARN(streamARN)
	}
	return table, shards, nil
}

// tail reads one shard until it closes or ctx is cancelled. An expired
// iterator is renewed after the last record read.
func (p *Poller) tail(ctx context.Context, streamARN, shardID, collection string, from streamtypes.ShardIteratorType) error {
	iterator, err := p.iterator(ctx, streamARN, shardID, from, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	var lastSeq string
	for iterator != nil {
		var out *dynamodbstreams.GetRecordsOutput
		err := p.retry(ctx, "get records", shardID, func() error {
			var err error
			out, err = p.client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iterator})
			var expired *streamtypes.ExpiredIteratorException
			if errors.As(err, &expired) {
				if lastSeq != "" {
					iterator, err = p.iterator(ctx, streamARN, shardID, streamtypes.ShardIteratorTypeAfterSequenceNumber, lastSeq)
				} else {
					iterator, err = p.iterator(ctx, streamARN, shardID, from, "")
				}
				if err != nil {
					return backoff.Permanent(err)
				}
				return expired
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		changes := make([]docstore.Change, 0, len(out.Records))
		for _, record := range out.Records {
			if record.Dynamodb != nil && record.Dynamodb.SequenceNumber != nil {
				lastSeq = *record.Dynamodb.SequenceNumber
			}
			change, ok, err := p.changeFromRecord(collection, record)
			if err != nil {
				p.logger.Warn("skipping undecodable stream record",
					"shard", shardID,
					"eventID", aws.ToString(record.EventID),
					"error", err,
				)
				continue
			}
			if ok {
				changes = append(changes, change)
			}
		}
		if len(changes) > 0 {
			p.publisher.Publish(changes...)
		}

		iterator = out.NextShardIterator
		if len(out.Records) == 0 {
			select {
			case <-time.After(p.poll.Interval):
			case <-ctx.Done():
				return nil
			}
		}
	}

	p.logger.Info("stream shard closed", "shard", shardID)
	return nil
}

func (p *Poller) iterator(ctx context.Context, streamARN, shardID string, from streamtypes.ShardIteratorType, afterSeq string) (*string, error) {
	in := &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(streamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: from,
	}
	if afterSeq != "" {
		in.SequenceNumber = aws.String(afterSeq)
	}
	var iterator *string
	err := p.retry(ctx, "get shard iterator", shardID, func() error {
		out, err := p.client.GetShardIterator(ctx, in)
		if err != nil {
			return err
		}
		iterator = out.ShardIterator
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shard %s iterator: %w", shardID, err)
	}
	return iterator, nil
}

// retry runs fn with exponential backoff, logging each failed attempt.
func (p *Poller) retry(ctx context.Context, what, target string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.poll.Interval / 2
	b.MaxElapsedTime = p.poll.MaxElapsed
	return backoff.RetryNotify(fn, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		p.logger.Warn("stream call failed, retrying",
			"call", what,
			"target", target,
			"wait", wait,
			"error", err,
		)
	})
}

func (p *Poller) changeFromRecord(collection string, record streamtypes.Record) (docstore.Change, bool, error) {
	kind, ok := opKind(string(record.EventName))
	if !ok || record.Dynamodb == nil {
		return docstore.Change{}, false, nil
	}

	keys, err := p.decode(record.Dynamodb.Keys)
	if err != nil {
		return docstore.Change{}, false, fmt.Errorf("keys: %w", err)
	}
	oldDoc, err := p.decode(record.Dynamodb.OldImage)
	if err != nil {
		return docstore.Change{}, false, fmt.Errorf("old image of %s/%s: %w", collection, keys.ID, err)
	}
	newDoc, err := p.decode(record.Dynamodb.NewImage)
	if err != nil {
		return docstore.Change{}, false, fmt.Errorf("new image of %s/%s: %w", collection, keys.ID, err)
	}

	return docstore.Change{
		Collection: collection,
		ID:         keys.ID,
		Kind:       kind,
		Old:        oldDoc.Fields,
		New:        newDoc.Fields,
	}, true, nil
}

// decode converts a stream image into a document. An absent image decodes
// to a document with nil fields.
func (p *Poller) decode(image map[string]streamtypes.AttributeValue) (docstore.Document, error) {
	if len(image) == 0 {
		return docstore.Document{}, nil
	}
	item, err := attributevalue.FromDynamoDBStreamsMap(image)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.DocumentFromItem(item, p.config.IDAttribute)
}
