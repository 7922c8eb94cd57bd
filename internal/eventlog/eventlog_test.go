package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.sqlite")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndSinceOrdersBySeq(t *testing.T) {
	l := openTestLog(t)
	now := time.Now()

	require.NoError(t, l.Append("stream-1", 1, "chat", `{"a":1}`, "", now))
	require.NoError(t, l.Append("stream-1", 2, "chat", `{"a":2}`, "", now))
	require.NoError(t, l.Append("stream-1", 3, "chat", `{"a":3}`, "", now))

	recs, err := l.Since("stream-1", 1)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, int64(2), recs[0].Seq)
	require.Equal(t, int64(3), recs[1].Seq)
}

func TestSinceIsolatesStreams(t *testing.T) {
	l := openTestLog(t)
	now := time.Now()

	require.NoError(t, l.Append("stream-a", 1, "chat", `{}`, "", now))
	require.NoError(t, l.Append("stream-b", 1, "chat", `{}`, "", now))

	recs, err := l.Since("stream-a", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestAppendDuplicateSeqIsNoOp(t *testing.T) {
	l := openTestLog(t)
	now := time.Now()

	require.NoError(t, l.Append("stream-1", 1, "chat", `{"v":1}`, "", now))
	require.NoError(t, l.Append("stream-1", 1, "chat", `{"v":2}`, "", now))

	recs, err := l.Since("stream-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, `{"v":1}`, recs[0].PayloadJSON)
}

func TestLatestSeqWithNoEventsIsZero(t *testing.T) {
	l := openTestLog(t)
	seq, err := l.LatestSeq("nobody")
	require.NoError(t, err)
	require.Equal(t, int64(0), seq)
}

func TestLatestSeqReturnsMax(t *testing.T) {
	l := openTestLog(t)
	now := time.Now()
	require.NoError(t, l.Append("stream-1", 5, "chat", `{}`, "", now))
	require.NoError(t, l.Append("stream-1", 9, "chat", `{}`, "", now))

	seq, err := l.LatestSeq("stream-1")
	require.NoError(t, err)
	require.Equal(t, int64(9), seq)
}

func TestPruneRemovesOldEvents(t *testing.T) {
	l := openTestLog(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	require.NoError(t, l.Append("stream-1", 1, "chat", `{}`, "", old))
	require.NoError(t, l.Append("stream-1", 2, "chat", `{}`, "", recent))

	n, err := l.Prune(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	recs, err := l.Since("stream-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(2), recs[0].Seq)
}
