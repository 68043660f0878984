package aeternusdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

func testConfig() *Config {
	c := NewConfig()
	c.WriteBufferSize = 4096
	c.ThreadPoolSize = 2
	return c
}

func openTest(t *testing.T, fs vfs.FS, clock vfs.Clock, dir string, config *Config) *Engine {
	t.Helper()
	e, err := openWith(fs, clock, dir, config)
	require.NoError(t, err)
	return e
}

func TestPutGetDelete(t *testing.T) {
	fs := vfs.NewMem()
	e := openTest(t, fs, vfs.NewManualClock(1), "/db", testConfig())
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	v, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, e.Delete([]byte("a")))
	_, err = e.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	fs := vfs.NewMem()
	e := openTest(t, fs, vfs.NewManualClock(1), "/db", testConfig())
	defer e.Close()

	require.ErrorIs(t, e.Put(nil, []byte("v")), ErrEmptyKey)
	_, err := e.Get(nil)
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestDeleteRangeOverMemtableAndSST(t *testing.T) {
	// S3.
	fs := vfs.NewMem()
	e := openTest(t, fs, vfs.NewManualClock(1), "/db", testConfig())
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))

	require.NoError(t, e.MajorCompact()) // force everything to an SST

	require.NoError(t, e.Put([]byte("d"), []byte("4")))
	require.NoError(t, e.Put([]byte("e"), []byte("5")))
	require.NoError(t, e.DeleteRange([]byte("b"), []byte("e")))

	v, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	for _, k := range []string{"b", "c", "d"} {
		_, err := e.Get([]byte(k))
		require.ErrorIs(t, err, ErrNotFound, "key %q", k)
	}

	v, err = e.Get([]byte("e"))
	require.NoError(t, err)
	require.Equal(t, "5", string(v))

	kvs, err := e.Scan([]byte("a"), []byte("z"))
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	require.Equal(t, "a", string(kvs[0].Key))
	require.Equal(t, "1", string(kvs[0].Value))
	require.Equal(t, "e", string(kvs[1].Key))
	require.Equal(t, "5", string(kvs[1].Value))
}

func TestScanBoundaries(t *testing.T) {
	fs := vfs.NewMem()
	e := openTest(t, fs, vfs.NewManualClock(1), "/db", testConfig())
	defer e.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Put([]byte(k), []byte(k+"v")))
	}

	kvs, err := e.Scan([]byte("b"), []byte("b"))
	require.NoError(t, err)
	require.Empty(t, kvs)

	first, err := e.Scan([]byte("a"), []byte("c"))
	require.NoError(t, err)
	second, err := e.Scan([]byte("c"), []byte("e"))
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Len(t, second, 2)

	_, err = e.Scan([]byte("c"), []byte("a"))
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestReopenPersistsData(t *testing.T) {
	fs := vfs.NewMem()
	clock := vfs.NewManualClock(1)
	e := openTest(t, fs, clock, "/db", testConfig())

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		require.NoError(t, e.Put(key, []byte("value")))
	}
	require.NoError(t, e.Close())

	e2 := openTest(t, fs, clock, "/db", testConfig())
	defer e2.Close()

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		v, err := e2.Get(key)
		require.NoError(t, err)
		require.Equal(t, "value", string(v))
	}

	kvs, err := e2.Scan([]byte("key"), []byte("kez"))
	require.NoError(t, err)
	require.Len(t, kvs, 50)
	for i, kv := range kvs {
		require.Equal(t, fmt.Sprintf("key%03d", i), string(kv.Key))
	}
}

// TestCrashBeforeFlushRecovers is S2: write enough to force
// multiple memtable rotations under a tiny write-buffer, "crash" without
// closing (dropping the reference simulates a lost process, since the
// in-memory FS retains everything written so far), then reopen and check
// every write survived via WAL replay.
func TestCrashBeforeFlushRecovers(t *testing.T) {
	fs := vfs.NewMem()
	clock := vfs.NewManualClock(1)
	config := testConfig()
	config.WriteBufferSize = 4096

	e := openTest(t, fs, clock, "/db", config)
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		val := make([]byte, 32)
		copy(val, fmt.Sprintf("v%03d", i))
		require.NoError(t, e.Put(key, val))
	}
	// No Close: simulates a crash before any pending flush completes.

	e2 := openTest(t, fs, clock, "/db", config)
	defer e2.Close()

	v, err := e2.Get([]byte("key057"))
	require.NoError(t, err)
	require.Equal(t, "v057", string(v[:4]))

	kvs, err := e2.Scan([]byte("key"), []byte("kez"))
	require.NoError(t, err)
	require.Len(t, kvs, 100)
}

// TestReopenThenPutThenReopenPersistsNewWrites guards against a reopened
// engine's active WAL silently writing at the wrong file offset: a write
// after the first reopen must still be durable across a second reopen.
func TestReopenThenPutThenReopenPersistsNewWrites(t *testing.T) {
	fs := vfs.NewMem()
	clock := vfs.NewManualClock(1)

	e := openTest(t, fs, clock, "/db", testConfig())
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Close())

	e2 := openTest(t, fs, clock, "/db", testConfig())
	require.NoError(t, e2.Put([]byte("b"), []byte("2")))
	require.NoError(t, e2.Close())

	e3 := openTest(t, fs, clock, "/db", testConfig())
	defer e3.Close()

	v, err := e3.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	v, err = e3.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

// TestThreeOpenCycleSurvives guards against a reopen corrupting the
// manifest event log's header (a repeat of the offset bug above, but on
// the manifest's own WAL): a third Open must succeed and see everything
// written across both prior sessions.
func TestThreeOpenCycleSurvives(t *testing.T) {
	fs := vfs.NewMem()
	clock := vfs.NewManualClock(1)

	e1 := openTest(t, fs, clock, "/db", testConfig())
	require.NoError(t, e1.Put([]byte("a"), []byte("1")))
	require.NoError(t, e1.Close())

	e2 := openTest(t, fs, clock, "/db", testConfig())
	require.NoError(t, e2.Put([]byte("b"), []byte("2")))
	require.NoError(t, e2.Close())

	e3 := openTest(t, fs, clock, "/db", testConfig())
	require.NoError(t, e3.Put([]byte("c"), []byte("3")))
	require.NoError(t, e3.Close())

	e4 := openTest(t, fs, clock, "/db", testConfig())
	defer e4.Close()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		v, err := e4.Get([]byte(kv[0]))
		require.NoError(t, err)
		require.Equal(t, kv[1], string(v))
	}
}

func TestMajorCompactPreservesVisibility(t *testing.T) {
	fs := vfs.NewMem()
	e := openTest(t, fs, vfs.NewManualClock(1), "/db", testConfig())
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Delete([]byte("a")))
	require.NoError(t, e.Put([]byte("c"), []byte("3")))

	before, err := e.Scan([]byte("a"), []byte("z"))
	require.NoError(t, err)

	require.NoError(t, e.MajorCompact())

	after, err := e.Scan([]byte("a"), []byte("z"))
	require.NoError(t, err)
	require.Equal(t, before, after)

	m := e.Metrics()
	require.Equal(t, uint64(1), m.MajorCompactions)
	require.Equal(t, 1, m.NumSSTs)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	fs := vfs.NewMem()
	e := openTest(t, fs, vfs.NewManualClock(1), "/db", testConfig())
	require.NoError(t, e.Close())

	require.ErrorIs(t, e.Put([]byte("a"), []byte("1")), ErrClosed)
	_, err := e.Get([]byte("a"))
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.Scan([]byte("a"), []byte("z"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, e.MajorCompact(), ErrClosed)

	// Close is idempotent.
	require.NoError(t, e.Close())
}
