// Package shard provides partition selection for change-feed watchers.
package shard

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// MaxShards is the upper bound accepted by Index.
const MaxShards = 256

// Index computes the partition for a watcher key.
// With numShards=1 every key goes to partition 0.
// With numShards>1, keys are distributed by an FNV-1a hash.
func Index(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}

// Label formats a partition index the way it appears in logs ("00".."ff").
func Label(index int) string {
	return fmt.Sprintf("%02x", index)
}

// WatchKey builds a stable key for a collection watcher from its equality
// filters. Filter order does not affect the result.
func WatchKey(collection string, filters map[string]string) string {
	if len(filters) == 0 {
		return collection
	}
	pairs := make([]string, 0, len(filters))
	for field, value := range filters {
		pairs = append(pairs, field+"="+value)
	}
	sort.Strings(pairs)
	return collection + "#" + strings.Join(pairs, "#")
}
