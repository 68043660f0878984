package sstable

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/bloom"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

// ErrEmptyTable is returned by Finish when the writer was given no point
// entries and no range tombstones; the caller (the engine) treats this as
// a no-op rather than publishing an empty file.
var ErrEmptyTable = errors.New("sstable: refusing to write an empty table")

// RangeTombstone is a deletion marker over [Start, End) stored verbatim in
// an SST's range-tombstone block.
type RangeTombstone struct {
	Start, End []byte
	Ts         int64
	LSN        base.LSN
}

type indexEntry struct {
	separator []byte
	offset    uint64
	size      uint64
}

type metaEntry struct {
	name   string
	offset uint64
	size   uint64
}

// FileName returns the canonical basename for the SST with the given id.
func FileName(id uint64) string { return fmt.Sprintf("sstable-%06d.sst", id) }

// Writer builds one immutable SST entirely in memory, then publishes it to
// a .tmp file and durably renames it into place on a successful Finish.
// Buffering in memory sidesteps needing to patch the fixed
// header — whose record/tombstone counts are only known once every entry
// has been seen — after the data blocks have already been written.
type Writer struct {
	fs        vfs.FS
	dir       string
	id        uint64
	tmpPath   string
	finalPath string

	body   []byte // everything that follows the fixed header
	offset uint64 // absolute file offset of the next byte appended to body

	curBlock   []byte
	curCount   int
	lastKeyAny []byte
	index      []indexEntry
	bloomKeys  [][]byte

	rangeTombstones []RangeTombstone

	minKey, maxKey []byte
	haveKeyBound   bool
	minLSN, maxLSN base.LSN
	minTs, maxTs   int64
	haveLSNBound   bool
	numEntries     uint64
	numDeletions   uint64
	creationTimeNs int64

	aborted bool
}

// NewWriter prepares a new SST builder for the given id. No file is
// created until Finish (or Abort, which is then a no-op).
func NewWriter(fs vfs.FS, dir string, id uint64, creationTimeNs int64) (*Writer, error) {
	finalName := FileName(id)
	return &Writer{
		fs: fs, dir: dir, id: id,
		tmpPath: fs.PathJoin(dir, finalName+".tmp"), finalPath: fs.PathJoin(dir, finalName),
		offset: uint64(headerSize), creationTimeNs: creationTimeNs,
	}, nil
}

func (w *Writer) touchKeyBound(key []byte) {
	if !w.haveKeyBound {
		w.minKey = append([]byte(nil), key...)
		w.maxKey = append([]byte(nil), key...)
		w.haveKeyBound = true
		return
	}
	if base.Compare(key, w.minKey) < 0 {
		w.minKey = append([]byte(nil), key...)
	}
	if base.Compare(key, w.maxKey) > 0 {
		w.maxKey = append([]byte(nil), key...)
	}
}

func (w *Writer) touchLSNTs(lsn base.LSN, ts int64) {
	if !w.haveLSNBound {
		w.minLSN, w.maxLSN = lsn, lsn
		w.minTs, w.maxTs = ts, ts
		w.haveLSNBound = true
		return
	}
	if lsn < w.minLSN {
		w.minLSN = lsn
	}
	if lsn > w.maxLSN {
		w.maxLSN = lsn
	}
	if ts < w.minTs {
		w.minTs = ts
	}
	if ts > w.maxTs {
		w.maxTs = ts
	}
}

// Add appends one point cell. Keys must be added in strictly ascending
// order; this is a caller contract, not re-validated here, matching the
// teacher's table writers.
func (w *Writer) Add(key, value []byte, ts int64, lsn base.LSN, isDelete bool) error {
	c := cell{key: key, value: value, ts: ts, delete: isDelete, lsn: lsn}
	enc := encoding.NewEncoder(len(key) + len(value) + 24)
	encodeCell(enc, c)
	cellBytes := enc.Bytes()

	if w.curCount > 0 && len(w.curBlock)+len(cellBytes) > targetBlockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}

	w.curBlock = append(w.curBlock, cellBytes...)
	w.curCount++
	w.lastKeyAny = append([]byte(nil), key...)
	w.bloomKeys = append(w.bloomKeys, append([]byte(nil), key...))
	w.touchKeyBound(key)
	w.touchLSNTs(lsn, ts)
	w.numEntries++
	if isDelete {
		w.numDeletions++
	}
	return nil
}

// AddRangeTombstone records a range tombstone to be written to the
// range-tombstones block.
func (w *Writer) AddRangeTombstone(start, end []byte, ts int64, lsn base.LSN) {
	w.rangeTombstones = append(w.rangeTombstones, RangeTombstone{
		Start: append([]byte(nil), start...), End: append([]byte(nil), end...), Ts: ts, LSN: lsn,
	})
	w.touchKeyBound(start)
	w.touchKeyBound(end)
	w.touchLSNTs(lsn, ts)
}

// flushBlock closes out curBlock and records its index entry, keyed by its
// last key — the separator convention blockForKey's binary search relies
// on: the first index entry whose separator is >= the sought key names the
// block that may contain it, for every block including the last.
func (w *Writer) flushBlock() error {
	if w.curCount == 0 {
		return nil
	}
	block := appendDataBlockTrailer(w.curBlock)
	w.body = append(w.body, block...)
	w.index = append(w.index, indexEntry{
		separator: append([]byte(nil), w.lastKeyAny...),
		offset:    w.offset,
		size:      uint64(len(block)),
	})
	w.offset += uint64(len(block))
	w.curBlock = w.curBlock[:0]
	w.curCount = 0
	return nil
}

func (w *Writer) writeBlock(content []byte) (off, size uint64) {
	block := appendCRCTrailer(content)
	off, size = w.offset, uint64(len(block))
	w.body = append(w.body, block...)
	w.offset += size
	return off, size
}

// Finish flushes remaining data, writes the bloom/properties/range-
// tombstones/metaindex/index blocks and the footer, then durably
// publishes the file: fsync, rename .tmp -> final, fsync parent dir.
func (w *Writer) Finish() (*Reader, error) {
	if w.numEntries == 0 && len(w.rangeTombstones) == 0 {
		return nil, ErrEmptyTable
	}
	if err := w.flushBlock(); err != nil {
		return nil, err
	}

	// Bloom filter over point keys only.
	f := bloom.New(len(w.bloomKeys))
	for _, k := range w.bloomKeys {
		f.Add(k)
	}
	bloomEnc := encoding.NewEncoder(64)
	f.Encode(bloomEnc)
	bloomOff, bloomSize := w.writeBlock(bloomEnc.Bytes())

	props := w.buildProperties()
	propsEnc := encoding.NewEncoder(128)
	propsEnc.PutVectorHeader(len(props))
	for _, p := range props {
		propsEnc.PutString(p.name)
		propsEnc.PutBytes(p.value)
	}
	propsOff, propsSize := w.writeBlock(propsEnc.Bytes())

	rdEnc := encoding.NewEncoder(32 + 32*len(w.rangeTombstones))
	rdEnc.PutVectorHeader(len(w.rangeTombstones))
	for _, rt := range w.rangeTombstones {
		rdEnc.PutBytes(rt.Start)
		rdEnc.PutBytes(rt.End)
		rdEnc.PutUint64(uint64(rt.Ts))
		rdEnc.PutUint64(uint64(rt.LSN))
	}
	rdOff, rdSize := w.writeBlock(rdEnc.Bytes())

	var metaEntries []metaEntry
	metaEntries = append(metaEntries, metaEntry{"filter.bloom", bloomOff, bloomSize})
	metaEntries = append(metaEntries, metaEntry{"meta.properties", propsOff, propsSize})
	if len(w.rangeTombstones) > 0 {
		metaEntries = append(metaEntries, metaEntry{"meta.range_deletions", rdOff, rdSize})
	}
	metaEnc := encoding.NewEncoder(64)
	metaEnc.PutVectorHeader(len(metaEntries))
	for _, m := range metaEntries {
		metaEnc.PutString(m.name)
		metaEnc.PutUint64(m.offset)
		metaEnc.PutUint64(m.size)
	}
	metaOff, metaSize := w.writeBlock(metaEnc.Bytes())

	idxEnc := encoding.NewEncoder(64)
	idxEnc.PutVectorHeader(len(w.index))
	for _, e := range w.index {
		idxEnc.PutBytes(e.separator)
		idxEnc.PutUint64(e.offset)
		idxEnc.PutUint64(e.size)
	}
	idxOff, idxSize := w.writeBlock(idxEnc.Bytes())

	ft := encodeFooter(footer{
		metaindexOffset: metaOff, metaindexSize: metaSize,
		indexOffset: idxOff, indexSize: idxSize,
		totalFileSize: w.offset + footerSize,
	})
	w.body = append(w.body, ft...)
	w.offset += footerSize

	// Now that every entry has been seen, record/tombstone counts are
	// final, so the fixed header can be assembled and prepended.
	hdr := encodeHeader(header{
		recordCount:    w.numEntries,
		tombstoneCount: w.numDeletions + uint64(len(w.rangeTombstones)),
		creationTimeNs: w.creationTimeNs,
	})
	full := make([]byte, 0, len(hdr)+len(w.body))
	full = append(full, hdr...)
	full = append(full, w.body...)

	file, err := w.fs.Create(w.tmpPath)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: create %q", w.tmpPath)
	}
	if _, err := file.Write(full); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "sstable: write %q", w.tmpPath)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "sstable: sync %q", w.tmpPath)
	}
	if err := file.Close(); err != nil {
		return nil, errors.Wrapf(err, "sstable: close %q", w.tmpPath)
	}
	if err := w.fs.Rename(w.tmpPath, w.finalPath); err != nil {
		return nil, err
	}
	if dir, err := w.fs.OpenDir(w.dir); err == nil {
		dir.Sync()
		dir.Close()
	}
	return Open(w.fs, w.finalPath, w.id)
}

// Abort discards a partially-built table. Since Writer only touches the
// filesystem inside Finish, Abort is a pure in-memory no-op; it exists so
// callers that decide mid-build to discard a table (e.g. a compaction
// whose inputs went stale) have one obvious method to call.
func (w *Writer) Abort() {
	w.aborted = true
}

func (w *Writer) buildProperties() []property {
	return []property{
		{"creation.time", []byte(strconv.FormatInt(w.creationTimeNs, 10))},
		{"num.entries", []byte(strconv.FormatUint(w.numEntries, 10))},
		{"num.deletions", []byte(strconv.FormatUint(w.numDeletions, 10))},
		{"num.range_deletions", []byte(strconv.Itoa(len(w.rangeTombstones)))},
		{"min.lsn", []byte(strconv.FormatUint(uint64(w.minLSN), 10))},
		{"max.lsn", []byte(strconv.FormatUint(uint64(w.maxLSN), 10))},
		{"min.timestamp", []byte(strconv.FormatInt(w.minTs, 10))},
		{"max.timestamp", []byte(strconv.FormatInt(w.maxTs, 10))},
		{"min.key", w.minKey},
		{"max.key", w.maxKey},
	}
}

type property struct {
	name  string
	value []byte
}
