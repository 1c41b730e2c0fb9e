package docstore

import (
	"strings"
	"time"
)

// Config holds configuration shared by the document store backends.
type Config struct {
	// TablePrefix is prepended to a collection name to form the table (or
	// Datastore kind) name.
	// Default: "" (table name equals collection name)
	TablePrefix string

	// IDAttribute is the attribute holding the document identifier.
	// Default: "id"
	IDAttribute string

	// Indexes maps a filter field to the DynamoDB global secondary index
	// whose partition key is that field. Queries with an indexed filter use
	// Query on the index; other queries fall back to Scan.
	// Default: ownerId -> "ownerId-index", storeId -> "storeId-index"
	Indexes map[string]string

	// NumShards is the number of feed partitions watchers are spread across.
	// Higher values reduce lock contention with many live queries.
	// Default: 1
	// Max: 256
	NumShards int

	// MaxBatchOps is the maximum number of operations in one atomic batch.
	// Backends clamp it to their own limit: DynamoDB transactions accept at
	// most 100 items and Datastore commits accept 500 mutations. Memory
	// applies it as given.
	// Default: 500
	MaxBatchOps int

	// IndexLag is how long after a change a live query re-runs once more.
	// Secondary index reads can trail writes, so the query that follows a
	// change may miss it; the second run picks it up. Memory reads are
	// always current and ignore it. Zero disables the second run.
	// Default: 1s
	IndexLag time.Duration
}

// DefaultConfig returns defaults matching the shopping list tables.
func DefaultConfig() Config {
	return Config{
		IDAttribute: "id",
		Indexes: map[string]string{
			"ownerId": "ownerId-index",
			"storeId": "storeId-index",
		},
		NumShards:   1,
		MaxBatchOps: 500,
		IndexLag:    time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.IDAttribute == "" {
		c.IDAttribute = "id"
	}
	if c.Indexes == nil {
		c.Indexes = map[string]string{}
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.MaxBatchOps < 1 {
		c.MaxBatchOps = 500
	}
	if c.IndexLag < 0 {
		c.IndexLag = 0
	}
}

// Table returns the backend table name for a collection.
func (c Config) Table(collection string) string {
	return c.TablePrefix + collection
}

// Collection returns the collection stored in table, or false when the
// table does not carry this config's prefix.
func (c Config) Collection(table string) (string, bool) {
	if !strings.HasPrefix(table, c.TablePrefix) {
		return "", false
	}
	name := strings.TrimPrefix(table, c.TablePrefix)
	return name, name != ""
}
