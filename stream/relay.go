// Package stream turns DynamoDB Streams records into docstore changes so
// live queries see writes made by other clients.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

// Publisher receives committed changes. *docstore.Feed implements it.
type Publisher interface {
	Publish(changes ...docstore.Change)
}

// Relay publishes DynamoDB stream events into a change feed.
type Relay struct {
	publisher Publisher
	config    docstore.Config
	logger    *slog.Logger
}

// NewRelay creates a relay that maps stream tables back to collections
// using config's table prefix.
func NewRelay(p Publisher, config docstore.Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if config.IDAttribute == "" {
		config.IDAttribute = "id"
	}
	return &Relay{
		publisher: p,
		config:    config,
		logger:    logger,
	}
}

// HandleEvent publishes every record of a stream event.
// This function is designed to be used as an AWS Lambda handler.
//
// Records from tables outside the configured prefix are skipped. A record
// whose image cannot be decoded fails the whole event so Lambda retries it.
func (r *Relay) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	changes := make([]docstore.Change, 0, len(event.Records))
	for _, record := range event.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		change, ok, err := r.changeFromRecord(record)
		if err != nil {
			r.logger.Error("failed to decode stream record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
		if ok {
			changes = append(changes, change)
		}
	}

	if len(changes) > 0 {
		r.publisher.Publish(changes...)
		r.logger.Debug("relayed stream changes", "count", len(changes))
	}
	return nil
}

// changeFromRecord converts one Lambda stream record. It reports false for
// records that do not belong to a known collection.
func (r *Relay) changeFromRecord(record events.DynamoDBEventRecord) (docstore.Change, bool, error) {
	kind, ok := opKind(record.EventName)
	if !ok {
		return docstore.Change{}, false, nil
	}
	collection, ok := r.config.Collection(tableFromARN(record.EventSourceArn))
	if !ok {
		return docstore.Change{}, false, nil
	}

	id := getStringAttr(record.Change.Keys, r.config.IDAttribute)
	if id == "" {
		id = getStringAttr(record.Change.NewImage, r.config.IDAttribute)
	}

	change := docstore.Change{Collection: collection, ID: id, Kind: kind}
	var err error
	if change.Old, err = r.fields(record.Change.OldImage); err != nil {
		return docstore.Change{}, false, fmt.Errorf("old image of %s/%s: %w", collection, id, err)
	}
	if change.New, err = r.fields(record.Change.NewImage); err != nil {
		return docstore.Change{}, false, fmt.Errorf("new image of %s/%s: %w", collection, id, err)
	}
	return change, true, nil
}

func (r *Relay) fields(image map[string]events.DynamoDBAttributeValue) (map[string]any, error) {
	if len(image) == 0 {
		return nil, nil
	}
	doc, err := docstore.DocumentFromItem(ConvertStreamImage(image), r.config.IDAttribute)
	if err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

func opKind(eventName string) (docstore.OpKind, bool) {
	switch eventName {
	case "INSERT":
		return docstore.OpInsert, true
	case "MODIFY":
		return docstore.OpUpdate, true
	case "REMOVE":
		return docstore.OpDelete, true
	}
	return 0, false
}

// tableFromARN extracts the table name from a table or stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/stores/stream/2024-01-01T00:00:00.000.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamImage converts a Lambda stream image into DynamoDB attribute
// values so it can be decoded like any other item.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttr(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttr(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttr(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertStreamImage(v.Map())}
	}
	return nil
}
