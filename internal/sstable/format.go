// Package sstable implements an immutable on-disk sorted table format: a
// fixed header, sequentially-written data blocks, a bloom filter, a
// properties block, a range-tombstone block, a metaindex block, a block
// index, and a fixed-position footer.
package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const (
	magic   = "SST0"
	version = uint32(1)

	headerSize = 4 + 4 + 8 + 8 + 8 // magic+version+recordCount+tombstoneCount+creationTime
	footerSize = 8*5 + 4           // 5 uint64 offsets/sizes + crc32

	targetBlockSize = 4 << 10 // ~4 KiB

	dataBlockTrailerSize = 4 + 4 // uncompressed_size u32, crc32 u32
	crcTrailerSize        = 4    // crc32 u32, used by bloom/properties/rangedel/metaindex/index blocks

	cellFlagDelete = 0x01
)

// ErrCorrupt is wrapped with details whenever an on-disk structural
// invariant (magic, version, checksum, footer position) fails to hold.
var ErrCorrupt = errors.New("sstable: corrupt file")

type header struct {
	recordCount     uint64
	tombstoneCount  uint64
	creationTimeNs  int64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint64(buf[8:16], h.recordCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.tombstoneCount)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.creationTimeNs))
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, errors.Wrap(ErrCorrupt, "short header")
	}
	if string(buf[0:4]) != magic {
		return header{}, errors.Wrap(ErrCorrupt, "bad magic")
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != version {
		return header{}, errors.Newf("sstable: unsupported version %d", v)
	}
	var h header
	h.recordCount = binary.LittleEndian.Uint64(buf[8:16])
	h.tombstoneCount = binary.LittleEndian.Uint64(buf[16:24])
	h.creationTimeNs = int64(binary.LittleEndian.Uint64(buf[24:32]))
	return h, nil
}

type footer struct {
	metaindexOffset uint64
	metaindexSize   uint64
	indexOffset     uint64
	indexSize       uint64
	totalFileSize   uint64
}

func encodeFooter(f footer) []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.metaindexOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.metaindexSize)
	binary.LittleEndian.PutUint64(buf[16:24], f.indexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], f.indexSize)
	binary.LittleEndian.PutUint64(buf[32:40], f.totalFileSize)
	crc := crcOf(buf[:40])
	binary.LittleEndian.PutUint32(buf[40:44], crc)
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != footerSize {
		return footer{}, errors.Wrap(ErrCorrupt, "short footer")
	}
	gotCRC := binary.LittleEndian.Uint32(buf[40:44])
	if wantCRC := crcOf(buf[:40]); gotCRC != wantCRC {
		return footer{}, errors.Wrap(ErrCorrupt, "footer checksum mismatch")
	}
	var f footer
	f.metaindexOffset = binary.LittleEndian.Uint64(buf[0:8])
	f.metaindexSize = binary.LittleEndian.Uint64(buf[8:16])
	f.indexOffset = binary.LittleEndian.Uint64(buf[16:24])
	f.indexSize = binary.LittleEndian.Uint64(buf[24:32])
	f.totalFileSize = binary.LittleEndian.Uint64(buf[32:40])
	return f, nil
}
