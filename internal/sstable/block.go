package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/crc32c"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
)

func crcOf(b []byte) uint32 { return crc32c.Checksum(b) }

// cell is one point record (Put or Delete) inside a data block, encoded as
// {key_len, key, value_len, value, ts, flags, lsn}.
type cell struct {
	key    []byte
	value  []byte
	ts     int64
	delete bool
	lsn    base.LSN
}

func encodeCell(e *encoding.Encoder, c cell) {
	e.PutBytes(c.key)
	e.PutBytes(c.value)
	e.PutUint64(uint64(c.ts))
	if c.delete {
		e.PutUint8(cellFlagDelete)
	} else {
		e.PutUint8(0)
	}
	e.PutUint64(uint64(c.lsn))
}

func decodeCell(d *encoding.Decoder) (cell, error) {
	var c cell
	var err error
	if c.key, err = d.Bytes(); err != nil {
		return cell{}, errors.Wrap(err, "sstable: decode cell key")
	}
	if c.value, err = d.Bytes(); err != nil {
		return cell{}, errors.Wrap(err, "sstable: decode cell value")
	}
	ts, err := d.Uint64()
	if err != nil {
		return cell{}, errors.Wrap(err, "sstable: decode cell ts")
	}
	c.ts = int64(ts)
	flags, err := d.Uint8()
	if err != nil {
		return cell{}, errors.Wrap(err, "sstable: decode cell flags")
	}
	c.delete = flags&cellFlagDelete != 0
	lsn, err := d.Uint64()
	if err != nil {
		return cell{}, errors.Wrap(err, "sstable: decode cell lsn")
	}
	c.lsn = base.LSN(lsn)
	return c, nil
}

// appendDataBlockTrailer appends the {uncompressed_size, crc32} trailer
// used by data blocks.
func appendDataBlockTrailer(content []byte) []byte {
	trailer := make([]byte, dataBlockTrailerSize)
	binary.LittleEndian.PutUint32(trailer[0:4], uint32(len(content)))
	binary.LittleEndian.PutUint32(trailer[4:8], crcOf(content))
	return append(content, trailer...)
}

func verifyDataBlockTrailer(withTrailer []byte) ([]byte, error) {
	if len(withTrailer) < dataBlockTrailerSize {
		return nil, errors.Wrap(ErrCorrupt, "short data block")
	}
	n := len(withTrailer) - dataBlockTrailerSize
	content, trailer := withTrailer[:n], withTrailer[n:]
	size := binary.LittleEndian.Uint32(trailer[0:4])
	if int(size) != n {
		return nil, errors.Wrap(ErrCorrupt, "data block size mismatch")
	}
	crc := binary.LittleEndian.Uint32(trailer[4:8])
	if crc != crcOf(content) {
		return nil, errors.Wrap(ErrCorrupt, "data block checksum mismatch")
	}
	return content, nil
}

// appendCRCTrailer appends the plain 4-byte crc32 trailer used by the
// bloom, properties, range-tombstone, metaindex, and index blocks.
func appendCRCTrailer(content []byte) []byte {
	var trailer [crcTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crcOf(content))
	return append(content, trailer[:]...)
}

func verifyCRCTrailer(withTrailer []byte) ([]byte, error) {
	if len(withTrailer) < crcTrailerSize {
		return nil, errors.Wrap(ErrCorrupt, "short block")
	}
	n := len(withTrailer) - crcTrailerSize
	content, trailer := withTrailer[:n], withTrailer[n:]
	crc := binary.LittleEndian.Uint32(trailer)
	if crc != crcOf(content) {
		return nil, errors.Wrap(ErrCorrupt, "block checksum mismatch")
	}
	return content, nil
}
