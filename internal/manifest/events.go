package manifest

import (
	"github.com/cockroachdb/errors"

	"github.com/kamil-kielbasa/aeternusdb/internal/base"
	"github.com/kamil-kielbasa/aeternusdb/internal/encoding"
)

// EventType tags one manifest WAL event.
type EventType uint8

const (
	EventVersion EventType = iota
	EventSetActiveWal
	EventAddFrozenWal
	EventRemoveFrozenWal
	EventAddSst
	EventRemoveSst
	EventUpdateLsn
	EventAllocateSstId
	EventCompaction
)

// Event is the tagged-variant record appended to the manifest's own WAL.
// Every field not used by Type is left zero; applying any event twice is
// idempotent.
type Event struct {
	Type EventType

	Version uint64
	WalID   uint64
	SstID   uint64
	SstPath string
	LSN     base.LSN

	Added   []SstEntry
	Removed []uint64
}

// EventCodec adapts Event to wal.Codec[Event] so the manifest's event log
// reuses the same generic WAL as the memtable.
type EventCodec struct{}

func (EventCodec) Encode(ev Event) []byte {
	e := encoding.NewEncoder(64)
	e.PutUint8(uint8(ev.Type))
	switch ev.Type {
	case EventVersion:
		e.PutUint64(ev.Version)
	case EventSetActiveWal, EventAddFrozenWal, EventRemoveFrozenWal:
		e.PutUint64(ev.WalID)
	case EventAddSst:
		e.PutUint64(ev.SstID)
		e.PutString(ev.SstPath)
	case EventRemoveSst, EventAllocateSstId:
		e.PutUint64(ev.SstID)
	case EventUpdateLsn:
		e.PutUint64(uint64(ev.LSN))
	case EventCompaction:
		e.PutVectorHeader(len(ev.Added))
		for _, a := range ev.Added {
			e.PutUint64(a.ID)
			e.PutString(a.Path)
		}
		e.PutVectorHeader(len(ev.Removed))
		for _, id := range ev.Removed {
			e.PutUint64(id)
		}
	}
	return e.Bytes()
}

func (EventCodec) Decode(buf []byte) (Event, error) {
	d := encoding.NewDecoder(buf)
	t, err := d.Uint8()
	if err != nil {
		return Event{}, errors.Wrap(err, "manifest: decode event type")
	}
	ev := Event{Type: EventType(t)}
	switch ev.Type {
	case EventVersion:
		v, err := d.Uint64()
		if err != nil {
			return Event{}, err
		}
		ev.Version = v
	case EventSetActiveWal, EventAddFrozenWal, EventRemoveFrozenWal:
		v, err := d.Uint64()
		if err != nil {
			return Event{}, err
		}
		ev.WalID = v
	case EventAddSst:
		id, err := d.Uint64()
		if err != nil {
			return Event{}, err
		}
		path, err := d.String()
		if err != nil {
			return Event{}, err
		}
		ev.SstID, ev.SstPath = id, path
	case EventRemoveSst, EventAllocateSstId:
		id, err := d.Uint64()
		if err != nil {
			return Event{}, err
		}
		ev.SstID = id
	case EventUpdateLsn:
		l, err := d.Uint64()
		if err != nil {
			return Event{}, err
		}
		ev.LSN = base.LSN(l)
	case EventCompaction:
		n, err := d.VectorHeader()
		if err != nil {
			return Event{}, err
		}
		ev.Added = make([]SstEntry, n)
		for i := range ev.Added {
			id, err := d.Uint64()
			if err != nil {
				return Event{}, err
			}
			path, err := d.String()
			if err != nil {
				return Event{}, err
			}
			ev.Added[i] = SstEntry{ID: id, Path: path}
		}
		m, err := d.VectorHeader()
		if err != nil {
			return Event{}, err
		}
		ev.Removed = make([]uint64, m)
		for i := range ev.Removed {
			id, err := d.Uint64()
			if err != nil {
				return Event{}, err
			}
			ev.Removed[i] = id
		}
	default:
		return Event{}, errors.Newf("manifest: unknown event type %d", t)
	}
	return ev, nil
}
