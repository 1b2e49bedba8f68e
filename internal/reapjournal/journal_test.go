package reapjournal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndRecentOrdersNewestFirst(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		err := j.Append(Record{
			CacheName:  "widget_cache",
			SlabsFreed: i + 1,
			BytesFreed: int64(i+1) * 4096,
			At:         base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recs, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, 3, recs[0].SlabsFreed)
	require.Equal(t, 2, recs[1].SlabsFreed)
	require.Equal(t, 1, recs[2].SlabsFreed)
}

func TestRecentRespectsLimit(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(Record{
			CacheName: "other_cache",
			At:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestRecentOnEmptyJournalReturnsNil(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.Recent(5)
	require.NoError(t, err)
	require.Empty(t, recs)
}
