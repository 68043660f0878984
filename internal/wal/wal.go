// Package wal implements a generic, checksummed, rotatable write-ahead log.
// WAL[T] is parameterized over a record type via a small Codec so that
// both the memtable (base.Record) and the manifest (manifest.Event) can
// share one on-disk format and one set of durability guarantees.
package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/kamil-kielbasa/aeternusdb/internal/crc32c"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

const (
	magic       = "AWAL"
	version     = uint32(1)
	headerSize  = 4 + 4 + 4 + 8 + 16 + 4 // magic+version+maxRecordSize+seq+uuid+crc
	frameHeader = 4                       // length prefix
	frameTrailer = 4                      // crc32
)

// ErrRecordTooLarge is returned by Append when the encoded record exceeds
// the WAL's configured max_record_size.
var ErrRecordTooLarge = errors.New("wal: record exceeds max_record_size")

// ErrHeaderMismatch is returned by Open when the header's wal_seq does not
// match the sequence number encoded in the filename.
var ErrHeaderMismatch = errors.New("wal: header sequence does not match filename")

// Codec encodes and decodes the record type T carried by a WAL.
type Codec[T any] interface {
	Encode(T) []byte
	Decode([]byte) (T, error)
}

// WAL is a single append-only, checksummed log file holding records of
// type T. One WAL owns one file and one mutex.
type WAL[T any] struct {
	fs            vfs.FS
	dir           string
	path          string
	codec         Codec[T]
	maxRecordSize uint32

	mu     sync.Mutex
	file   vfs.File
	seq    uint64
	id     uuid.UUID
	offset int64 // write offset, used by Append; replay tracks its own.
}

// FileName returns the canonical basename for the WAL with the given
// sequence number ("wal-NNNNNN.log").
func FileName(seq uint64) string {
	return fmt.Sprintf("wal-%06d.log", seq)
}

// Create creates a fresh WAL file with sequence seq and a new random UUID,
// writes its header, and durably syncs it before returning.
func Create[T any](fs vfs.FS, dir string, seq uint64, maxRecordSize uint32, codec Codec[T]) (*WAL[T], error) {
	path := fs.PathJoin(dir, FileName(seq))
	f, err := fs.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: create %q", path)
	}
	w := &WAL[T]{
		fs: fs, dir: dir, path: path, codec: codec,
		maxRecordSize: maxRecordSize, file: f, seq: seq, id: uuid.New(),
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Open opens an existing WAL file with the given sequence number, validating
// that the header's own wal_seq matches the sequence implied by the
// filename before allowing any further writes.
func Open[T any](fs vfs.FS, dir string, seq uint64, maxRecordSize uint32, codec Codec[T]) (*WAL[T], error) {
	path := fs.PathJoin(dir, FileName(seq))
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: open %q", path)
	}
	w := &WAL[T]{fs: fs, dir: dir, path: path, codec: codec, maxRecordSize: maxRecordSize, file: f, seq: seq}
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, headerSize), hdr); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "wal: read header %q", path)
	}
	if err := w.parseHeader(hdr); err != nil {
		f.Close()
		return nil, err
	}
	if w.seq != seq {
		f.Close()
		return nil, errors.Wrapf(ErrHeaderMismatch, "%q: header seq %d, filename seq %d", path, w.seq, seq)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w.offset = fi.Size()
	return w, nil
}

func (w *WAL[T]) writeHeader() error {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], w.maxRecordSize)
	binary.LittleEndian.PutUint64(buf[12:20], w.seq)
	copy(buf[20:36], w.id[:])
	crc := crc32c.Checksum(buf[:36])
	binary.LittleEndian.PutUint32(buf[36:40], crc)
	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return errors.Wrapf(err, "wal: write header %q", w.path)
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrapf(err, "wal: sync header %q", w.path)
	}
	w.offset = int64(headerSize)
	return nil
}

func (w *WAL[T]) parseHeader(buf []byte) error {
	if string(buf[0:4]) != magic {
		return errors.Newf("wal: bad magic in %q", w.path)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != version {
		return errors.Newf("wal: unsupported version %d in %q", v, w.path)
	}
	gotCRC := binary.LittleEndian.Uint32(buf[36:40])
	if wantCRC := crc32c.Checksum(buf[:36]); gotCRC != wantCRC {
		return errors.Newf("wal: header checksum mismatch in %q", w.path)
	}
	w.maxRecordSize = binary.LittleEndian.Uint32(buf[8:12])
	w.seq = binary.LittleEndian.Uint64(buf[12:20])
	copy(w.id[:], buf[20:36])
	return nil
}

// Seq returns the WAL's sequence number.
func (w *WAL[T]) Seq() uint64 { return w.seq }

// UUID returns the WAL's header UUID.
func (w *WAL[T]) UUID() uuid.UUID { return w.id }

// Path returns the WAL's file path.
func (w *WAL[T]) Path() string { return w.path }

// Append serializes rec and durably appends it: the frame is written under
// the file mutex and fsync'd before Append returns. It writes at w.offset
// rather than relying on the file's own position, since Open never seeks
// the underlying handle to end-of-file.
func (w *WAL[T]) Append(rec T) error {
	body := w.codec.Encode(rec)
	if uint32(len(body)) > w.maxRecordSize {
		return errors.Wrapf(ErrRecordTooLarge, "%d > %d", len(body), w.maxRecordSize)
	}
	frame := make([]byte, frameHeader+len(body)+frameTrailer)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:4+len(body)], body)
	crc := crc32c.Checksum(frame[:4+len(body)])
	binary.LittleEndian.PutUint32(frame[4+len(body):], crc)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.WriteAt(frame, w.offset); err != nil {
		return errors.Wrapf(err, "wal: append %q", w.path)
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrapf(err, "wal: sync %q", w.path)
	}
	w.offset += int64(len(frame))
	return nil
}

// Replay yields every record written to the WAL in write order. It stops
// cleanly — without returning an error — at EOF, at a truncated frame, or
// at a checksum/length-prefix mismatch: all such conditions are treated as
// the end of the valid log, never as corruption of earlier valid records.
func (w *WAL[T]) Replay() ([]T, error) {
	f, err := w.fs.Open(w.path)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: reopen for replay %q", w.path)
	}
	defer f.Close()

	var records []T
	off := int64(headerSize)
	for {
		lenBuf := make([]byte, frameHeader)
		n, err := f.ReadAt(lenBuf, off)
		if n < frameHeader || err != nil {
			break
		}
		bodyLen := binary.LittleEndian.Uint32(lenBuf)
		if bodyLen > w.maxRecordSize {
			break
		}
		frame := make([]byte, frameHeader+int(bodyLen)+frameTrailer)
		n, err = f.ReadAt(frame, off)
		if n != len(frame) || (err != nil && err != io.EOF) {
			break
		}
		body := frame[frameHeader : frameHeader+int(bodyLen)]
		gotCRC := binary.LittleEndian.Uint32(frame[frameHeader+int(bodyLen):])
		if wantCRC := crc32c.Checksum(frame[:frameHeader+int(bodyLen)]); gotCRC != wantCRC {
			break
		}
		rec, err := w.codec.Decode(body)
		if err != nil {
			break
		}
		records = append(records, rec)
		off += int64(len(frame))
	}
	return records, nil
}

// Truncate resets the file to header-only, used by manifest checkpointing
// to reclaim space once a snapshot subsumes the event log.
func (w *WAL[T]) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(int64(headerSize)); err != nil {
		return errors.Wrapf(err, "wal: truncate %q", w.path)
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.offset = int64(headerSize)
	return nil
}

// Close durably closes the underlying file.
func (w *WAL[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return errors.Wrapf(err, "wal: sync on close %q", w.path)
	}
	return errors.Wrapf(w.file.Close(), "wal: close %q", w.path)
}

// RotateNext durably closes this WAL (it becomes a frozen segment; the
// caller is responsible for tracking it) and returns a fresh WAL opened at
// seq+1 with a new UUID.
func (w *WAL[T]) RotateNext() (*WAL[T], error) {
	if err := w.Close(); err != nil {
		return nil, err
	}
	return Create(w.fs, w.dir, w.seq+1, w.maxRecordSize, w.codec)
}
