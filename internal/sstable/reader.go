package sstable

import (
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/bloom"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

// Reader opens an immutable SST for point lookups and range scans. Data
// blocks are read on demand and checksum-verified on first read; the
// bloom filter, properties, range tombstones and index are loaded eagerly
// at Open since they are needed by every subsequent operation.
type Reader struct {
	fs   vfs.FS
	f    vfs.File
	path string
	id   uint64

	bloom *bloom.Filter
	index []indexEntry

	rangeTombstones []RangeTombstone

	recordCount        uint64
	numDeletions       uint64
	numRangeDeletions  uint64
	minKey, maxKey     []byte
	minLSN, maxLSN     base.LSN
	minTs, maxTs       int64
	creationTimeNs     int64
}

// Open opens path, validates its header/footer, and loads its metadata
// blocks. It does not memory-map the file; a plain read handle is enough.
func Open(fs vfs.FS, path string, id uint64) (*Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: open %q", path)
	}
	r := &Reader{fs: fs, f: f, path: path, id: id}
	if err := r.load(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "sstable: load %q", path)
	}
	return r, nil
}

func (r *Reader) load() error {
	fi, err := r.f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size < int64(headerSize+footerSize) {
		return errors.Wrap(ErrCorrupt, "file too small")
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := r.f.ReadAt(hdrBuf, 0); err != nil {
		return errors.Wrap(err, "read header")
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return err
	}
	r.creationTimeNs = hdr.creationTimeNs

	ftBuf := make([]byte, footerSize)
	if _, err := r.f.ReadAt(ftBuf, size-footerSize); err != nil {
		return errors.Wrap(err, "read footer")
	}
	ft, err := decodeFooter(ftBuf)
	if err != nil {
		return err
	}
	if ft.totalFileSize != uint64(size) {
		return errors.Wrap(ErrCorrupt, "footer total_file_size mismatch")
	}

	metaBuf, err := r.readSpan(ft.metaindexOffset, ft.metaindexSize)
	if err != nil {
		return errors.Wrap(err, "read metaindex")
	}
	metaContent, err := verifyCRCTrailer(metaBuf)
	if err != nil {
		return errors.Wrap(err, "verify metaindex")
	}
	metaEntries, err := decodeMetaindex(metaContent)
	if err != nil {
		return err
	}
	metaByName := map[string]metaEntry{}
	for _, m := range metaEntries {
		metaByName[m.name] = m
	}

	if bm, ok := metaByName["filter.bloom"]; ok {
		buf, err := r.readSpan(bm.offset, bm.size)
		if err != nil {
			return errors.Wrap(err, "read bloom block")
		}
		content, err := verifyCRCTrailer(buf)
		if err != nil {
			return errors.Wrap(err, "verify bloom block")
		}
		r.bloom, err = bloom.Decode(encoding.NewDecoder(content))
		if err != nil {
			return errors.Wrap(err, "decode bloom block")
		}
	}

	pm, ok := metaByName["meta.properties"]
	if !ok {
		return errors.Wrap(ErrCorrupt, "missing properties block")
	}
	buf, err := r.readSpan(pm.offset, pm.size)
	if err != nil {
		return errors.Wrap(err, "read properties block")
	}
	content, err := verifyCRCTrailer(buf)
	if err != nil {
		return errors.Wrap(err, "verify properties block")
	}
	if err := r.loadProperties(content); err != nil {
		return err
	}
	r.recordCount = hdr.recordCount

	if rm, ok := metaByName["meta.range_deletions"]; ok {
		buf, err := r.readSpan(rm.offset, rm.size)
		if err != nil {
			return errors.Wrap(err, "read range-deletions block")
		}
		content, err := verifyCRCTrailer(buf)
		if err != nil {
			return errors.Wrap(err, "verify range-deletions block")
		}
		if r.rangeTombstones, err = decodeRangeTombstones(content); err != nil {
			return err
		}
	}
	r.numRangeDeletions = uint64(len(r.rangeTombstones))

	idxBuf, err := r.readSpan(ft.indexOffset, ft.indexSize)
	if err != nil {
		return errors.Wrap(err, "read index block")
	}
	idxContent, err := verifyCRCTrailer(idxBuf)
	if err != nil {
		return errors.Wrap(err, "verify index block")
	}
	if r.index, err = decodeIndex(idxContent); err != nil {
		return err
	}
	return nil
}

func (r *Reader) readSpan(offset, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeMetaindex(content []byte) ([]metaEntry, error) {
	d := encoding.NewDecoder(content)
	n, err := d.VectorHeader()
	if err != nil {
		return nil, err
	}
	entries := make([]metaEntry, n)
	for i := range entries {
		name, err := d.String()
		if err != nil {
			return nil, err
		}
		off, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		size, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		entries[i] = metaEntry{name: name, offset: off, size: size}
	}
	return entries, nil
}

func decodeIndex(content []byte) ([]indexEntry, error) {
	d := encoding.NewDecoder(content)
	n, err := d.VectorHeader()
	if err != nil {
		return nil, err
	}
	entries := make([]indexEntry, n)
	for i := range entries {
		sep, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		off, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		size, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		entries[i] = indexEntry{separator: sep, offset: off, size: size}
	}
	return entries, nil
}

func decodeRangeTombstones(content []byte) ([]RangeTombstone, error) {
	d := encoding.NewDecoder(content)
	n, err := d.VectorHeader()
	if err != nil {
		return nil, err
	}
	out := make([]RangeTombstone, n)
	for i := range out {
		start, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		end, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		ts, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		lsn, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		out[i] = RangeTombstone{Start: start, End: end, Ts: int64(ts), LSN: base.LSN(lsn)}
	}
	return out, nil
}

func (r *Reader) loadProperties(content []byte) error {
	d := encoding.NewDecoder(content)
	n, err := d.VectorHeader()
	if err != nil {
		return err
	}
	props := map[string][]byte{}
	for i := 0; i < n; i++ {
		name, err := d.String()
		if err != nil {
			return err
		}
		val, err := d.Bytes()
		if err != nil {
			return err
		}
		props[name] = val
	}
	getUint := func(name string) uint64 {
		v, _ := strconv.ParseUint(string(props[name]), 10, 64)
		return v
	}
	getInt := func(name string) int64 {
		v, _ := strconv.ParseInt(string(props[name]), 10, 64)
		return v
	}
	r.numDeletions = getUint("num.deletions")
	r.minLSN = base.LSN(getUint("min.lsn"))
	r.maxLSN = base.LSN(getUint("max.lsn"))
	r.minTs = getInt("min.timestamp")
	r.maxTs = getInt("max.timestamp")
	r.minKey = props["min.key"]
	r.maxKey = props["max.key"]
	return nil
}

// ID, Path, RecordCount, NumDeletions, NumRangeDeletions, MinKey, MaxKey,
// MinLSN, MaxLSN and CreatedAt expose the SST's attributes.
func (r *Reader) ID() uint64                { return r.id }
func (r *Reader) Path() string              { return r.path }
func (r *Reader) RecordCount() uint64       { return r.recordCount }
func (r *Reader) NumDeletions() uint64      { return r.numDeletions }
func (r *Reader) NumRangeDeletions() uint64 { return r.numRangeDeletions }
func (r *Reader) MinKey() []byte            { return r.minKey }
func (r *Reader) MaxKey() []byte            { return r.maxKey }
func (r *Reader) MinLSN() base.LSN          { return r.minLSN }
func (r *Reader) MaxLSN() base.LSN          { return r.maxLSN }
func (r *Reader) CreatedAt() int64          { return r.creationTimeNs }
func (r *Reader) RangeTombstones() []RangeTombstone { return r.rangeTombstones }
func (r *Reader) Bloom() *bloom.Filter       { return r.bloom }

// Close releases the reader's file handle.
func (r *Reader) Close() error { return r.f.Close() }

// FileSize reports the on-disk size, used by size-tiered bucketing.
func (r *Reader) FileSize() (int64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (r *Reader) inKeyRange(key []byte) bool {
	if r.minKey != nil && base.Compare(key, r.minKey) < 0 {
		return false
	}
	if r.maxKey != nil && base.Compare(key, r.maxKey) > 0 {
		return false
	}
	return true
}

func (r *Reader) rangeTombstoneAt(key []byte) (RangeTombstone, bool) {
	var best RangeTombstone
	found := false
	for _, rt := range r.rangeTombstones {
		if base.Compare(key, rt.Start) >= 0 && base.Compare(key, rt.End) < 0 {
			if !found || rt.LSN > best.LSN {
				best, found = rt, true
			}
		}
	}
	return best, found
}

func (r *Reader) blockForKey(key []byte) (int, bool) {
	i := sort.Search(len(r.index), func(i int) bool {
		return base.Compare(r.index[i].separator, key) >= 0
	})
	if i == len(r.index) {
		return 0, false
	}
	return i, true
}

func (r *Reader) readDataBlock(i int) ([]cell, error) {
	e := r.index[i]
	buf, err := r.readSpan(e.offset, e.size)
	if err != nil {
		return nil, err
	}
	content, err := verifyDataBlockTrailer(buf)
	if err != nil {
		return nil, err
	}
	var cells []cell
	d := encoding.NewDecoder(content)
	for d.Remaining() > 0 {
		c, err := decodeCell(d)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// Get resolves a point lookup within this SST alone: constant-time key-
// range reject, bloom check, index binary search, in-block linear scan,
// plus a range-tombstone check — with no cross-SST LSN resolution.
func (r *Reader) Get(key []byte) (base.PointResult, error) {
	tomb, hasTomb := r.rangeTombstoneAt(key)

	if !r.inKeyRange(key) {
		if hasTomb {
			return base.PointResult{Found: true, Kind: base.KindRangeDelete, LSN: tomb.LSN}, nil
		}
		return base.NotFound, nil
	}

	var (
		hasPoint bool
		point    cell
	)
	if r.bloom == nil || r.bloom.MayContain(key) {
		if i, ok := r.blockForKey(key); ok {
			cells, err := r.readDataBlock(i)
			if err != nil {
				return base.PointResult{}, err
			}
			for _, c := range cells {
				if base.Compare(c.key, key) == 0 {
					point, hasPoint = c, true
					break
				}
			}
		}
	}

	switch {
	case !hasPoint && !hasTomb:
		return base.NotFound, nil
	case !hasPoint:
		return base.PointResult{Found: true, Kind: base.KindRangeDelete, LSN: tomb.LSN}, nil
	case hasTomb && tomb.LSN > point.lsn:
		return base.PointResult{Found: true, Kind: base.KindRangeDelete, LSN: tomb.LSN}, nil
	default:
		kind := base.KindPut
		if point.delete {
			kind = base.KindDelete
		}
		return base.PointResult{Found: true, Kind: kind, Value: point.value, LSN: point.lsn}, nil
	}
}

// ScanEntry is one raw record read from the SST, with no cross-layer
// visibility filtering applied.
type ScanEntry struct {
	Key       []byte
	Value     []byte
	Delete    bool
	LSN       base.LSN
	Ts        int64
	Tombstone *RangeTombstone
}

// Scan yields every cell with key in [start, end) in key order, followed
// by every range tombstone overlapping the scan.
func (r *Reader) Scan(start, end []byte) ([]ScanEntry, error) {
	var out []ScanEntry
	startBlock, ok := r.blockForKey(start)
	if !ok {
		startBlock = len(r.index)
	}
	for i := startBlock; i < len(r.index); i++ {
		cells, err := r.readDataBlock(i)
		if err != nil {
			return nil, err
		}
		done := false
		for _, c := range cells {
			if base.Compare(c.key, start) < 0 {
				continue
			}
			if base.Compare(c.key, end) >= 0 {
				done = true
				break
			}
			out = append(out, ScanEntry{Key: c.key, Value: c.value, Delete: c.delete, LSN: c.lsn, Ts: c.ts})
		}
		if done {
			break
		}
	}
	for i := range r.rangeTombstones {
		rt := r.rangeTombstones[i]
		if base.Compare(rt.Start, end) < 0 && base.Compare(rt.End, start) > 0 {
			out = append(out, ScanEntry{Tombstone: &rt})
		}
	}
	return out, nil
}

// ScanAll yields every point cell, in ascending key order, followed by
// every range tombstone. Used by compaction, which always reads a whole
// input table rather than a bounded range.
func (r *Reader) ScanAll() ([]ScanEntry, error) {
	var out []ScanEntry
	for i := range r.index {
		cells, err := r.readDataBlock(i)
		if err != nil {
			return nil, err
		}
		for _, c := range cells {
			out = append(out, ScanEntry{Key: c.key, Value: c.value, Delete: c.delete, LSN: c.lsn, Ts: c.ts})
		}
	}
	for i := range r.rangeTombstones {
		rt := r.rangeTombstones[i]
		out = append(out, ScanEntry{Tombstone: &rt})
	}
	return out, nil
}
