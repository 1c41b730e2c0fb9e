package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// dynamoMaxTransactItems is the TransactWriteItems item limit.
const dynamoMaxTransactItems = 100

// DynamoAPI is the subset of *dynamodb.Client used by Dynamo.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Dynamo stores each collection in its own DynamoDB table keyed by the ID
// attribute.
type Dynamo struct {
	client DynamoAPI
	config Config
	feed   *Feed
}

// NewDynamo creates a DynamoDB-backed store.
func NewDynamo(client DynamoAPI, config Config) *Dynamo {
	config.validate()
	if config.MaxBatchOps > dynamoMaxTransactItems {
		config.MaxBatchOps = dynamoMaxTransactItems
	}
	return &Dynamo{
		client: client,
		config: config,
		feed:   NewFeed(config.NumShards),
	}
}

// Feed returns the change feed live queries subscribe to.
func (d *Dynamo) Feed() *Feed {
	return d.feed
}

// Config returns the validated configuration.
func (d *Dynamo) Config() Config {
	return d.config
}

// Insert puts a new item under a fresh identifier.
func (d *Dynamo) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	op := "dynamo insert " + collection
	id := NewID()
	item, err := d.marshalItem(id, fields)
	if err != nil {
		return "", wrap(op, nil, err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.config.Table(collection)),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": d.config.IDAttribute},
	})
	if err != nil {
		if isConditionFailed(err) {
			return "", wrap(op, ErrAlreadyExists, err)
		}
		return "", d.mapError(op, err)
	}

	d.feed.Publish(Change{Collection: collection, ID: id, Kind: OpInsert, New: cloneFields(fields)})
	return id, nil
}

// Update sets fields on an existing item. The identifier attribute is never
// rewritten.
func (d *Dynamo) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	op := fmt.Sprintf("dynamo update %s/%s", collection, id)
	expr, names, values, err := buildSet(fields, d.config.IDAttribute)
	if err != nil {
		return wrap(op, nil, err)
	}
	names["#id"] = d.config.IDAttribute

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.config.Table(collection)),
		Key:                       d.key(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return wrap(op, ErrNotFound, err)
		}
		return d.mapError(op, err)
	}

	change := Change{Collection: collection, ID: id, Kind: OpUpdate}
	if out != nil && len(out.Attributes) > 0 {
		if doc, err := DocumentFromItem(out.Attributes, d.config.IDAttribute); err == nil {
			change.New = doc.Fields
		}
	}
	d.feed.Publish(change)
	return nil
}

// Delete removes an item. Deleting a missing item succeeds and publishes
// nothing.
func (d *Dynamo) Delete(ctx context.Context, collection, id string) error {
	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.config.Table(collection)),
		Key:          d.key(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return d.mapError(fmt.Sprintf("dynamo delete %s/%s", collection, id), err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return nil
	}

	change := Change{Collection: collection, ID: id, Kind: OpDelete}
	if doc, err := DocumentFromItem(out.Attributes, d.config.IDAttribute); err == nil {
		change.Old = doc.Fields
	}
	d.feed.Publish(change)
	return nil
}

// Get retrieves an item with a strongly consistent read.
func (d *Dynamo) Get(ctx context.Context, collection, id string) (Document, error) {
	op := fmt.Sprintf("dynamo get %s/%s", collection, id)
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.config.Table(collection)),
		Key:            d.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Document{}, d.mapError(op, err)
	}
	if result == nil || result.Item == nil {
		return Document{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	doc, err := DocumentFromItem(result.Item, d.config.IDAttribute)
	if err != nil {
		return Document{}, wrap(op, nil, err)
	}
	return doc, nil
}

// Query runs an equality-filtered query. When a filter targets an
// indexed field that field becomes the key condition of a GSI query and the
// remaining filters are applied as a filter expression. Without an indexed
// filter the table is scanned.
//
// GSI reads are eventually consistent: a write committed just before the
// call may be missing. Use QueryConsistent when that matters.
func (d *Dynamo) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	return d.query(ctx, "dynamo query "+collection, collection, false, filters)
}

// QueryConsistent runs the query as a strongly consistent Scan so every
// write committed before the call is seen. It reads the whole table.
func (d *Dynamo) QueryConsistent(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	return d.query(ctx, "dynamo consistent query "+collection, collection, true, filters)
}

func (d *Dynamo) query(ctx context.Context, op, collection string, consistent bool, filters []Filter) ([]Document, error) {
	keyIndex := -1
	var indexName string
	for i, f := range filters {
		if consistent {
			break
		}
		if name, ok := d.config.Indexes[f.Field]; ok && name != "" {
			keyIndex, indexName = i, name
			break
		}
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var keyCond string
	var conds []string
	for i, f := range filters {
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return nil, wrap(op, ErrInvalidDocument, err)
		}
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":f%d", i)
		names[nameKey] = f.Field
		values[valueKey] = av

		clause := nameKey + " = " + valueKey
		if i == keyIndex {
			keyCond = clause
		} else {
			conds = append(conds, clause)
		}
	}

	var filterExpr *string
	if len(conds) > 0 {
		filterExpr = aws.String(strings.Join(conds, " AND "))
	}

	var items []map[string]types.AttributeValue
	if keyIndex >= 0 {
		paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
			TableName:                 aws.String(d.config.Table(collection)),
			IndexName:                 aws.String(indexName),
			KeyConditionExpression:    aws.String(keyCond),
			FilterExpression:          filterExpr,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, d.mapError(op, err)
			}
			items = append(items, page.Items...)
		}
	} else {
		input := &dynamodb.ScanInput{
			TableName:        aws.String(d.config.Table(collection)),
			FilterExpression: filterExpr,
			ConsistentRead:   aws.Bool(true),
		}
		// DynamoDB rejects empty expression maps.
		if len(names) > 0 {
			input.ExpressionAttributeNames = names
			input.ExpressionAttributeValues = values
		}
		paginator := dynamodb.NewScanPaginator(d.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, d.mapError(op, err)
			}
			items = append(items, page.Items...)
		}
	}

	docs := make([]Document, 0, len(items))
	for _, item := range items {
		doc, err := DocumentFromItem(item, d.config.IDAttribute)
		if err != nil {
			return nil, wrap(op, nil, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Watch starts a live query over the DynamoDB tables.
func (d *Dynamo) Watch(ctx context.Context, collection string, filters ...Filter) (<-chan Snapshot, error) {
	return WatchWithLag(ctx, d, d.feed, d.config.IndexLag, collection, filters...), nil
}

// Batch commits ops as one DynamoDB transaction.
// Deletes carry no condition, so deleting a missing item never cancels the
// transaction.
func (d *Dynamo) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > d.config.MaxBatchOps {
		return fmt.Errorf("dynamo batch of %d ops: %w", len(ops), ErrBatchTooLarge)
	}

	idNames := map[string]string{"#id": d.config.IDAttribute}
	items := make([]types.TransactWriteItem, 0, len(ops))
	changes := make([]Change, 0, len(ops))

	for _, op := range ops {
		table := aws.String(d.config.Table(op.Collection))
		switch op.Kind {
		case OpInsert:
			id := op.ID
			if id == "" {
				id = NewID()
			}
			item, err := d.marshalItem(id, op.Fields)
			if err != nil {
				return wrap("dynamo batch insert "+op.Collection, nil, err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:                table,
					Item:                     item,
					ConditionExpression:      aws.String("attribute_not_exists(#id)"),
					ExpressionAttributeNames: idNames,
				},
			})
			changes = append(changes, Change{Collection: op.Collection, ID: id, Kind: OpInsert, New: cloneFields(op.Fields)})

		case OpUpdate:
			expr, names, values, err := buildSet(op.Fields, d.config.IDAttribute)
			if err != nil {
				return wrap("dynamo batch update "+op.Collection, nil, err)
			}
			names["#id"] = d.config.IDAttribute
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:                 table,
					Key:                       d.key(op.ID),
					UpdateExpression:          aws.String(expr),
					ConditionExpression:       aws.String("attribute_exists(#id)"),
					ExpressionAttributeNames:  names,
					ExpressionAttributeValues: values,
				},
			})
			changes = append(changes, Change{Collection: op.Collection, ID: op.ID, Kind: OpUpdate})

		case OpDelete:
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: table,
					Key:       d.key(op.ID),
				},
			})
			changes = append(changes, Change{Collection: op.Collection, ID: op.ID, Kind: OpDelete})

		default:
			return fmt.Errorf("dynamo batch: unsupported op %v: %w", op.Kind, ErrInvalidDocument)
		}
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return d.mapBatchError(ops, err)
	}

	d.feed.Publish(changes...)
	return nil
}

func (d *Dynamo) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		d.config.IDAttribute: &types.AttributeValueMemberS{Value: id},
	}
}

// marshalItem converts fields to a DynamoDB item carrying the identifier.
func (d *Dynamo) marshalItem(id string, fields map[string]any) (map[string]types.AttributeValue, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if item == nil {
		item = map[string]types.AttributeValue{}
	}
	item[d.config.IDAttribute] = &types.AttributeValueMemberS{Value: id}
	return item, nil
}

// mapBatchError maps transaction cancellation reasons back to the op that
// failed its condition.
func (d *Dynamo) mapBatchError(ops []Op, err error) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" || i >= len(ops) {
				continue
			}
			switch ops[i].Kind {
			case OpInsert:
				return wrap("dynamo batch", ErrAlreadyExists, err)
			case OpUpdate:
				return wrap("dynamo batch", ErrNotFound, err)
			}
		}
	}
	return d.mapError("dynamo batch", err)
}

// mapError classifies a DynamoDB error by its API error code. Anything not
// recognised is treated as a transport or service failure.
func (d *Dynamo) mapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException",
			"UnrecognizedClientException",
			"MissingAuthenticationTokenException",
			"InvalidSignatureException":
			return wrap(op, ErrPermission, err)
		case "ValidationException", "SerializationException":
			return wrap(op, ErrInvalidDocument, err)
		}
	}
	return wrap(op, ErrUnavailable, err)
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// buildSet builds a SET update expression for fields, skipping the
// identifier attribute. Attribute order is sorted so expressions are stable.
func buildSet(fields map[string]any, idAttribute string) (string, map[string]string, map[string]types.AttributeValue, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == idAttribute {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", nil, nil, fmt.Errorf("%w: no fields to update", ErrInvalidDocument)
	}
	sort.Strings(keys)

	names := make(map[string]string, len(keys)+1)
	values := make(map[string]types.AttributeValue, len(keys))
	clauses := make([]string, 0, len(keys))
	for i, k := range keys {
		av, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: field %q: %w", ErrInvalidDocument, k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = k
		values[valueKey] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	return "SET " + strings.Join(clauses, ", "), names, values, nil
}

// DocumentFromItem converts a DynamoDB item into a Document, moving the
// identifier attribute out of the field map. Numbers decode as float64.
func DocumentFromItem(item map[string]types.AttributeValue, idAttribute string) (Document, error) {
	var fields map[string]any
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	id, _ := fields[idAttribute].(string)
	delete(fields, idAttribute)
	return Document{ID: id, Fields: fields}, nil
}
