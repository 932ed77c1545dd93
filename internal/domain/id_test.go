package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMakeEventID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1:0xabc:7", MakeEventID(1, "0xABC", 7), "tx hash is canonicalized to lowercase")
	assert.Equal(t, "56:0xdeadbeef:0", MakeEventID(56, "0xdeadbeef", 0))
}

func TestHourBucket(t *testing.T) {
	t.Parallel()

	in := time.Date(2026, 3, 2, 15, 42, 13, 999, time.UTC)
	want := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, want.UnixMilli(), HourBucket(in))

	// non-UTC input floors to the same absolute hour
	msk := time.FixedZone("MSK", 3*60*60)
	assert.Equal(t, HourBucket(in), HourBucket(in.In(msk)))

	assert.Equal(t, want, BucketTime(HourBucket(in)))
	assert.Equal(t, time.UTC, BucketTime(HourBucket(in)).Location())
}
