// internal/library/service.go
package library

import (
	"context"

	"shelfkeeper/internal/identity"
)

// Service defines the interface for the library service.
//
// owner names the library an operation targets; caller is the authenticated
// identity performing it. Every operation except CreateLibrary requires
// caller == owner of the stored record.
type Service interface {
	CreateLibrary(ctx context.Context, owner identity.Identity, name string) (*Library, error)
	GetLibrary(ctx context.Context, caller, owner identity.Identity) (*Library, error)
	AddBook(ctx context.Context, caller, owner identity.Identity, name string, pages uint16) error
	RemoveBook(ctx context.Context, caller, owner identity.Identity, name string) error
	ListBooks(ctx context.Context, caller, owner identity.Identity) ([]Book, error)
	ToggleAvailability(ctx context.Context, caller, owner identity.Identity, name string) (bool, error)
	History(ctx context.Context, caller, owner identity.Identity) ([]Event, error)
}
