package manifest

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/crc32c"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

// ErrCorruptSnapshot is returned when a snapshot file's checksum does not
// match its contents. This aborts recovery rather than silently skipping
// the snapshot.
var ErrCorruptSnapshot = errors.New("manifest: snapshot checksum mismatch")

// Snapshot is the full manifest checkpoint format: version, snapshot_lsn,
// state, and a trailing checksum.
type Snapshot struct {
	Version     uint64
	SnapshotLSN base.LSN
	State       State
}

const snapshotPrefix = "MANIFEST-"

func snapshotFileName(seq uint64) string {
	return snapshotPrefix + pad6(seq)
}

func pad6(seq uint64) string {
	s := strconv.FormatUint(seq, 10)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}

func encodeSnapshot(snap Snapshot) []byte {
	e := encoding.NewEncoder(256)
	e.PutUint64(snap.Version)
	e.PutUint64(uint64(snap.SnapshotLSN))
	e.PutUint64(uint64(snap.State.Version))
	e.PutUint64(uint64(snap.State.LastLSN))
	e.PutUint64(snap.State.ActiveWalID)
	e.PutVectorHeader(len(snap.State.FrozenWalIDs))
	for _, id := range snap.State.FrozenWalIDs {
		e.PutUint64(id)
	}
	e.PutVectorHeader(len(snap.State.Ssts))
	for _, s := range snap.State.Ssts {
		e.PutUint64(s.ID)
		e.PutString(s.Path)
	}
	e.PutUint64(snap.State.NextSstID)
	e.PutBool(snap.State.Dirty)

	body := e.Bytes()
	checksum := crc32c.Checksum(body)
	out := make([]byte, len(body)+4)
	copy(out, body)
	binary.LittleEndian.PutUint32(out[len(body):], checksum)
	return out
}

func decodeSnapshot(buf []byte) (Snapshot, error) {
	if len(buf) < 4 {
		return Snapshot{}, errors.Wrap(ErrCorruptSnapshot, "short snapshot")
	}
	n := len(buf) - 4
	body, trailer := buf[:n], buf[n:]
	gotChecksum := binary.LittleEndian.Uint32(trailer)
	if wantChecksum := crc32c.Checksum(body); gotChecksum != wantChecksum {
		return Snapshot{}, ErrCorruptSnapshot
	}

	d := encoding.NewDecoder(body)
	var snap Snapshot
	var err error
	readU64 := func() uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = d.Uint64()
		return v
	}

	snap.Version = readU64()
	snap.SnapshotLSN = base.LSN(readU64())
	snap.State.Version = readU64()
	snap.State.LastLSN = base.LSN(readU64())
	snap.State.ActiveWalID = readU64()
	if err != nil {
		return Snapshot{}, err
	}

	n1, e1 := d.VectorHeader()
	if e1 != nil {
		return Snapshot{}, e1
	}
	snap.State.FrozenWalIDs = make([]uint64, n1)
	for i := range snap.State.FrozenWalIDs {
		snap.State.FrozenWalIDs[i] = readU64()
	}
	if err != nil {
		return Snapshot{}, err
	}

	n2, e2 := d.VectorHeader()
	if e2 != nil {
		return Snapshot{}, e2
	}
	snap.State.Ssts = make([]SstEntry, n2)
	for i := range snap.State.Ssts {
		id, e := d.Uint64()
		if e != nil {
			return Snapshot{}, e
		}
		path, e := d.String()
		if e != nil {
			return Snapshot{}, e
		}
		snap.State.Ssts[i] = SstEntry{ID: id, Path: path}
	}

	snap.State.NextSstID = readU64()
	if err != nil {
		return Snapshot{}, err
	}
	dirty, e3 := d.Bool()
	if e3 != nil {
		return Snapshot{}, e3
	}
	snap.State.Dirty = dirty
	return snap, nil
}

// writeSnapshot durably publishes a new snapshot at MANIFEST-<seq>: write
// to .tmp, fsync, rename, fsync the parent directory.
func writeSnapshot(fs vfs.FS, dir string, seq uint64, snap Snapshot) error {
	name := snapshotFileName(seq)
	tmpPath := fs.PathJoin(dir, name+".tmp")
	finalPath := fs.PathJoin(dir, name)

	buf := encodeSnapshot(snap)
	f, err := fs.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "manifest: create %q", tmpPath)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrapf(err, "manifest: write %q", tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "manifest: sync %q", tmpPath)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "manifest: close %q", tmpPath)
	}
	if err := fs.Rename(tmpPath, finalPath); err != nil {
		return errors.Wrapf(err, "manifest: rename %q", tmpPath)
	}
	if d, err := fs.OpenDir(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// loadLatestSnapshot scans dir for the highest-sequence MANIFEST-* file
// (ignoring .tmp remnants of a crashed checkpoint, which are never
// considered valid) and loads it. If none exists, it returns a zero State
// with NextSstID left at 0.
func loadLatestSnapshot(fs vfs.FS, dir string) (State, uint64, error) {
	names, err := fs.List(dir)
	if err != nil {
		return State{}, 0, errors.Wrapf(err, "manifest: list %q", dir)
	}

	var best string
	var bestSeq uint64
	for _, name := range names {
		if !strings.HasPrefix(name, snapshotPrefix) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		seqStr := strings.TrimPrefix(name, snapshotPrefix)
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			best, bestSeq = name, seq
		}
	}
	if best == "" {
		return State{}, 0, nil
	}

	f, err := fs.Open(fs.PathJoin(dir, best))
	if err != nil {
		return State{}, 0, errors.Wrapf(err, "manifest: open %q", best)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return State{}, 0, err
	}
	buf := make([]byte, fi.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return State{}, 0, errors.Wrapf(err, "manifest: read %q", best)
	}
	snap, err := decodeSnapshot(buf)
	if err != nil {
		return State{}, 0, errors.Wrapf(err, "manifest: decode %q", best)
	}
	return snap.State, bestSeq, nil
}
