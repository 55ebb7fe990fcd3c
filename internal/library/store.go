// internal/library/store.go
package library

import (
	"context"

	"shelfkeeper/internal/address"
)

// UpdateFunc changes a private copy of a library and describes the change.
// Returning an error discards the copy.
type UpdateFunc func(lib *Library) (Event, error)

// Store persists one library per address and serializes operations on it.
//
// Implementations fill in the ID, Version and CreatedAt of the events they
// record. Create records version 1; every successful Update adds one.
type Store interface {
	// Create stores lib at an unoccupied address, or fails with ErrLibraryExists.
	Create(ctx context.Context, addr address.Address, lib *Library, ev Event) error
	// Load returns a copy of the library at addr, or ErrLibraryNotFound.
	Load(ctx context.Context, addr address.Address) (*Library, error)
	// Update runs fn against the library at addr as one atomic read-modify-write.
	Update(ctx context.Context, addr address.Address, fn UpdateFunc) error
	// Events returns the journal of addr in version order.
	Events(ctx context.Context, addr address.Address) ([]Event, error)
}
