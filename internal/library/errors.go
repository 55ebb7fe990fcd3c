// internal/library/errors.go
package library

import "errors"

var (
	// ErrNotOwner is returned when the caller is not the library's owner.
	ErrNotOwner = errors.New("caller is not the owner of this library")

	// ErrBookNotFound is returned when no book carries the requested name.
	ErrBookNotFound = errors.New("book not found")

	// ErrCapacityExceeded is returned when adding to a full library.
	ErrCapacityExceeded = errors.New("library is full")

	// ErrNameTooLong is returned when a library or book name exceeds MaxNameLen.
	ErrNameTooLong = errors.New("name too long")

	// ErrLibraryExists is returned when the owner's address is already occupied.
	ErrLibraryExists = errors.New("library already exists")

	// ErrLibraryNotFound is returned when no record lives at the owner's address.
	ErrLibraryNotFound = errors.New("library not found")

	// ErrRateLimited is returned when the create limiter has no token left.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCorruptRecord is returned when stored bytes do not decode into a Library.
	ErrCorruptRecord = errors.New("corrupt library record")
)
