package queue

import (
	"fmt"
	"time"
)

// Key builders for the engine's keyspace. All entry data for a location
// lives under loc/{loc}/ so a prefix scan bounds every listing.

func entryKey(locationID, entryID string) []byte {
	return []byte(fmt.Sprintf("loc/%s/entry/%s", locationID, entryID))
}

func entryPrefix(locationID string) []byte {
	return []byte(fmt.Sprintf("loc/%s/entry/", locationID))
}

// counterKey addresses the position counter for a location+day partition.
func counterKey(locationID, day string) []byte {
	return []byte(fmt.Sprintf("loc/%s/day/%s/ctr", locationID, day))
}

func requestKey(locationID, requestID string) []byte {
	return []byte(fmt.Sprintf("loc/%s/reqid/%s", locationID, requestID))
}

func locationMetaKey(locationID string) []byte {
	return []byte("locmeta/" + locationID)
}

var locationMetaPrefix = []byte("locmeta/")

// dayFromMs formats the UTC day partition for a timestamp.
func dayFromMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("20060102")
}
