package base

import (
	"github.com/cockroachdb/errors"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
)

// EncodeRecord serializes a Record using the shared codec, for use as the
// payload of a memtable WAL frame.
func EncodeRecord(r Record) []byte {
	e := encoding.NewEncoder(32 + len(r.Key) + len(r.Value) + len(r.Start) + len(r.End))
	e.PutUint8(uint8(r.Kind))
	switch r.Kind {
	case KindPut:
		e.PutBytes(r.Key)
		e.PutBytes(r.Value)
	case KindDelete:
		e.PutBytes(r.Key)
	case KindRangeDelete:
		e.PutBytes(r.Start)
		e.PutBytes(r.End)
	}
	e.PutUint64(uint64(r.LSN))
	e.PutUint64(uint64(r.Ts))
	return e.Bytes()
}

// DecodeRecord parses a Record previously written by EncodeRecord.
func DecodeRecord(buf []byte) (Record, error) {
	d := encoding.NewDecoder(buf)
	kindByte, err := d.Uint8()
	if err != nil {
		return Record{}, errors.Wrap(err, "base: decode record kind")
	}
	var r Record
	r.Kind = Kind(kindByte)
	switch r.Kind {
	case KindPut:
		if r.Key, err = d.Bytes(); err != nil {
			return Record{}, errors.Wrap(err, "base: decode put key")
		}
		if r.Value, err = d.Bytes(); err != nil {
			return Record{}, errors.Wrap(err, "base: decode put value")
		}
	case KindDelete:
		if r.Key, err = d.Bytes(); err != nil {
			return Record{}, errors.Wrap(err, "base: decode delete key")
		}
	case KindRangeDelete:
		if r.Start, err = d.Bytes(); err != nil {
			return Record{}, errors.Wrap(err, "base: decode range-delete start")
		}
		if r.End, err = d.Bytes(); err != nil {
			return Record{}, errors.Wrap(err, "base: decode range-delete end")
		}
	default:
		return Record{}, errors.Newf("base: invalid record kind %d", kindByte)
	}
	lsn, err := d.Uint64()
	if err != nil {
		return Record{}, errors.Wrap(err, "base: decode lsn")
	}
	r.LSN = LSN(lsn)
	ts, err := d.Uint64()
	if err != nil {
		return Record{}, errors.Wrap(err, "base: decode ts")
	}
	r.Ts = int64(ts)
	return r, nil
}

// RecordCodec adapts EncodeRecord/DecodeRecord to wal.Codec[Record].
type RecordCodec struct{}

func (RecordCodec) Encode(r Record) []byte            { return EncodeRecord(r) }
func (RecordCodec) Decode(b []byte) (Record, error) { return DecodeRecord(b) }
