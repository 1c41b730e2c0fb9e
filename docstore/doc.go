// Package docstore is the remote document store boundary of the shopping list
// sync layer.
//
// A document store holds schema-less documents grouped in named collections.
// The package narrows that surface to what the sync layer needs and offers
// it through one interface, [Store], with three backends:
//
//   - [Dynamo] - Amazon DynamoDB, one table per collection
//   - [Datastore] - Google Cloud Datastore, one kind per collection
//   - [Memory] - in-process maps, used for development and tests
//
// # Operations
//
//   - Insert assigns a new identifier and refuses to overwrite
//   - Update patches named fields of an existing document
//   - Delete is idempotent: deleting a missing document is not an error
//   - Get reads one document by identifier
//   - Query returns every document matching a set of equality [Filter]s
//   - Watch delivers the current matching set, then a fresh full set after
//     every relevant change
//   - Batch applies a list of [Op] atomically: all succeed or none apply
//
// # Live queries
//
// Every backend publishes a [Change] on its [Feed] after each committed
// write. [Watch] subscribes to the feed and re-runs the query whenever a
// change may affect its result. Changes committed by other processes reach
// the feed through the stream package.
//
// # Relationships
//
// Parent/child links between collections are recorded in a [Registry].
// Deleting a parent must delete its children in the same [Batch].
//
// # Errors
//
// Backends translate driver errors into the package sentinels:
//
//   - [ErrNotFound] - document doesn't exist
//   - [ErrAlreadyExists] - insert collided with an existing identifier
//   - [ErrPermission] - the backend refused the credentials
//   - [ErrUnavailable] - transport or service failure
//   - [ErrBatchTooLarge] - batch exceeds the backend operation limit
//   - [ErrInvalidDocument] - fields cannot be represented by the backend
package docstore
