// internal/library/memstore.go
package library

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelfkeeper/internal/address"
)

type memRecord struct {
	data    []byte
	version int
	events  []Event
}

// MemoryStore keeps encoded records in a map. Operations are serialized by a
// single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[address.Address]*memRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[address.Address]*memRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (ms *MemoryStore) Create(_ context.Context, addr address.Address, lib *Library, ev Event) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.records[addr]; exists {
		return ErrLibraryExists
	}
	data, err := lib.MarshalBinary()
	if err != nil {
		return err
	}
	rec := &memRecord{data: data, version: 1}
	rec.events = append(rec.events, ms.stamp(ev, rec.version))
	ms.records[addr] = rec
	return nil
}

func (ms *MemoryStore) Load(_ context.Context, addr address.Address) (*Library, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[addr]
	if !ok {
		return nil, ErrLibraryNotFound
	}
	lib := &Library{}
	if err := lib.UnmarshalBinary(rec.data); err != nil {
		return nil, err
	}
	return lib, nil
}

func (ms *MemoryStore) Update(_ context.Context, addr address.Address, fn UpdateFunc) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[addr]
	if !ok {
		return ErrLibraryNotFound
	}
	lib := &Library{}
	if err := lib.UnmarshalBinary(rec.data); err != nil {
		return err
	}
	ev, err := fn(lib)
	if err != nil {
		return err
	}
	data, err := lib.MarshalBinary()
	if err != nil {
		return err
	}
	rec.data = data
	rec.version++
	rec.events = append(rec.events, ms.stamp(ev, rec.version))
	return nil
}

func (ms *MemoryStore) Events(_ context.Context, addr address.Address) ([]Event, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[addr]
	if !ok {
		return nil, ErrLibraryNotFound
	}
	events := make([]Event, len(rec.events))
	copy(events, rec.events)
	return events, nil
}

func (ms *MemoryStore) stamp(ev Event, version int) Event {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Version = version
	ev.CreatedAt = ms.now()
	return ev
}
