package wal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

func TestFileNameFormat(t *testing.T) {
	require.Equal(t, "wal-000007.log", FileName(7))
}

func TestAppendAndReplayRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	w, err := Create(fs, "/db", 1, 1<<16, base.RecordCodec{})
	require.NoError(t, err)

	recs := []base.Record{
		{Kind: base.KindPut, Key: []byte("a"), Value: []byte("1"), LSN: 1},
		{Kind: base.KindPut, Key: []byte("b"), Value: []byte("2"), LSN: 2},
		{Kind: base.KindDelete, Key: []byte("a"), LSN: 3},
	}
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}

	got, err := w.Replay()
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, recs[0].Key, got[0].Key)
	require.Equal(t, recs[2].Kind, got[2].Kind)
}

func TestAppendRejectsRecordLargerThanMaxRecordSize(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	w, err := Create(fs, "/db", 1, 4, base.RecordCodec{})
	require.NoError(t, err)

	err = w.Append(base.Record{Kind: base.KindPut, Key: []byte("longer-than-4-bytes"), Value: []byte("v")})
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestOpenValidatesHeaderSequenceMatchesFilename(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	w, err := Create(fs, "/db", 3, 1<<16, base.RecordCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Opening under the sequence the header encodes succeeds.
	reopened, err := Open(fs, "/db", 3, 1<<16, base.RecordCodec{})
	require.NoError(t, err)
	require.Equal(t, uint64(3), reopened.Seq())
	require.NoError(t, reopened.Close())

	// Renaming the file so its name implies seq 4 while its header still
	// encodes 3 makes Open reject it.
	require.NoError(t, fs.Rename(fs.PathJoin("/db", FileName(3)), fs.PathJoin("/db", FileName(4))))
	_, err = Open(fs, "/db", 4, 1<<16, base.RecordCodec{})
	require.ErrorIs(t, err, ErrHeaderMismatch)
}

func TestReplayStopsCleanlyAtTruncatedTrailingFrame(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	w, err := Create(fs, "/db", 1, 1<<16, base.RecordCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append(base.Record{Kind: base.KindPut, Key: []byte("a"), Value: []byte("1")}))

	f, err := fs.Open(w.Path())
	require.NoError(t, err)
	fi, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(fi.Size()-2))
	require.NoError(t, f.Close())

	got, err := w.Replay()
	require.NoError(t, err)
	require.Len(t, got, 0)
}

func TestTruncateResetsToHeaderOnly(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	w, err := Create(fs, "/db", 1, 1<<16, base.RecordCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append(base.Record{Kind: base.KindPut, Key: []byte("a"), Value: []byte("1")}))
	require.NoError(t, w.Truncate())

	got, err := w.Replay()
	require.NoError(t, err)
	require.Len(t, got, 0)
}

func TestRotateNextClosesOldAndOpensSeqPlusOne(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0o755))
	w, err := Create(fs, "/db", 1, 1<<16, base.RecordCodec{})
	require.NoError(t, err)

	next, err := w.RotateNext()
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Seq())
	require.NotEqual(t, w.UUID(), next.UUID())
	require.NoError(t, next.Close())
}
