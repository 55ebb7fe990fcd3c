package library

import "shelfkeeper/internal/address"

// raw returns the stored bytes at addr.
func (ms *MemoryStore) raw(addr address.Address) ([]byte, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[addr]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), rec.data...), true
}
