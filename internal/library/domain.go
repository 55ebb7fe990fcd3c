// internal/library/domain.go
package library

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"shelfkeeper/internal/identity"
)

const (
	// MaxNameLen bounds library and book names, in bytes.
	MaxNameLen = 60
	// MaxBooks bounds the number of books a library holds.
	MaxBooks = 10
)

// Book is a name, page count and availability flag stored inside a Library.
type Book struct {
	Name      string `json:"name"`
	Pages     uint16 `json:"pages"`
	Available bool   `json:"available"`
}

// Library is the single record an owner keeps.
type Library struct {
	Owner identity.Identity `json:"owner"`
	Name  string            `json:"name"`
	Books []Book            `json:"books"`
}

// NewLibrary returns an empty library owned by owner.
func NewLibrary(owner identity.Identity, name string) (*Library, error) {
	if err := validateName("library", name); err != nil {
		return nil, err
	}
	return &Library{
		Owner: owner,
		Name:  name,
		Books: []Book{},
	}, nil
}

// AddBook appends an available book to the end of the collection.
func (l *Library) AddBook(name string, pages uint16) error {
	if err := validateName("book", name); err != nil {
		return err
	}
	if len(l.Books) >= MaxBooks {
		return fmt.Errorf("%w: library already holds %d books", ErrCapacityExceeded, len(l.Books))
	}
	l.Books = append(l.Books, Book{
		Name:      name,
		Pages:     pages,
		Available: true,
	})
	return nil
}

// RemoveBook removes the first book called name, keeping the order of the rest.
func (l *Library) RemoveBook(name string) error {
	i := l.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrBookNotFound, name)
	}
	l.Books = append(l.Books[:i], l.Books[i+1:]...)
	return nil
}

// ToggleAvailability flips the availability of the first book called name and
// returns the new value.
func (l *Library) ToggleAvailability(name string) (bool, error) {
	i := l.indexOf(name)
	if i < 0 {
		return false, fmt.Errorf("%w: %q", ErrBookNotFound, name)
	}
	l.Books[i].Available = !l.Books[i].Available
	return l.Books[i].Available, nil
}

// ListBooks returns a copy of the collection in stored order.
func (l *Library) ListBooks() []Book {
	books := make([]Book, len(l.Books))
	copy(books, l.Books)
	return books
}

func (l *Library) indexOf(name string) int {
	for i := range l.Books {
		if l.Books[i].Name == name {
			return i
		}
	}
	return -1
}

func validateName(kind, name string) error {
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %s name is %d bytes, limit is %d", ErrNameTooLong, kind, len(name), MaxNameLen)
	}
	return nil
}

// Event records one committed change to a library.
type Event struct {
	ID        uuid.UUID           `json:"id"`
	Type      string              `json:"type"`
	Data      jsoniter.RawMessage `json:"data"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
}

const (
	EventLibraryCreated          = "LibraryCreated"
	EventBookAdded               = "BookAdded"
	EventBookRemoved             = "BookRemoved"
	EventBookAvailabilityToggled = "BookAvailabilityToggled"
)

// LibraryCreatedEvent is recorded when an owner opens a library.
type LibraryCreatedEvent struct {
	Owner identity.Identity `json:"owner"`
	Name  string            `json:"name"`
}

// BookAddedEvent is recorded when a book is appended.
type BookAddedEvent struct {
	Name  string `json:"name"`
	Pages uint16 `json:"pages"`
}

// BookRemovedEvent is recorded when a book is removed.
type BookRemovedEvent struct {
	Name string `json:"name"`
}

// BookAvailabilityToggledEvent is recorded when a book's availability flips.
type BookAvailabilityToggledEvent struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}
