package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventID = "<chain_id>:<tx_hash>:<log_index>"
func MakeEventID(chainID uint32, txHash string, logIndex uint32) string {
	return fmt.Sprintf("%d:%s:%d", chainID, strings.ToLower(txHash), logIndex)
}

// HourBucket floors t to the hour; bucket keys are epoch millis UTC
func HourBucket(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).UnixMilli()
}

func BucketTime(bucket int64) time.Time {
	return time.UnixMilli(bucket).UTC()
}

// Persisted-state keys. Values are JSON-encoded entity records.

func AggregateKey(chainID uint32, pairID string) string {
	return fmt.Sprintf("agg:%d:%s", chainID, pairID)
}

func SnapshotKey(chainID uint32, pairID string, bucket int64) string {
	return fmt.Sprintf("snap:%d:%s:%d", chainID, pairID, bucket)
}

func UnconfirmedKey(chainID uint32, kind EventKind) string {
	return fmt.Sprintf("unconf:%d:%s", chainID, kind)
}

func CheckpointKey(chainID uint32, worker string) string {
	return fmt.Sprintf("sync:%d:%s", chainID, worker)
}

func PairIndexKey(chainID uint32) string {
	return fmt.Sprintf("pairs:%d", chainID)
}

func PatchTopic(chainID uint32, pairID string) string {
	return fmt.Sprintf("pairs.%d.%s", chainID, pairID)
}
