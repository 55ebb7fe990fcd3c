package library

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfkeeper/internal/identity"
)

func TestNewLibrary(t *testing.T) {
	var owner identity.Identity
	owner[0] = 0xAA

	lib, err := NewLibrary(owner, "Home")
	require.NoError(t, err)
	assert.Equal(t, owner, lib.Owner)
	assert.Equal(t, "Home", lib.Name)
	assert.Empty(t, lib.Books)
	assert.NotNil(t, lib.Books)

	_, err = NewLibrary(owner, strings.Repeat("x", MaxNameLen))
	assert.NoError(t, err)

	_, err = NewLibrary(owner, strings.Repeat("x", MaxNameLen+1))
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestAddBook(t *testing.T) {
	lib := &Library{}

	require.NoError(t, lib.AddBook("Dune", 412))
	assert.Equal(t, []Book{{Name: "Dune", Pages: 412, Available: true}}, lib.Books)

	require.NoError(t, lib.AddBook("", 65535))
	assert.Equal(t, Book{Name: "", Pages: 65535, Available: true}, lib.Books[1])

	err := lib.AddBook(strings.Repeat("é", 31), 1)
	assert.ErrorIs(t, err, ErrNameTooLong, "62 bytes even though 31 characters")
	assert.Len(t, lib.Books, 2)
}

func TestAddBookCapacity(t *testing.T) {
	lib := &Library{}
	for i := 0; i < MaxBooks; i++ {
		require.NoError(t, lib.AddBook(fmt.Sprintf("book-%d", i), uint16(i)))
	}

	err := lib.AddBook("one too many", 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Len(t, lib.Books, MaxBooks)
	assert.Equal(t, "book-9", lib.Books[MaxBooks-1].Name)
}

func TestRemoveBookFirstMatch(t *testing.T) {
	lib := &Library{Books: []Book{
		{Name: "Dune", Pages: 1, Available: true},
		{Name: "Emma", Pages: 2, Available: true},
		{Name: "Dune", Pages: 3, Available: false},
	}}

	require.NoError(t, lib.RemoveBook("Dune"))
	assert.Equal(t, []Book{
		{Name: "Emma", Pages: 2, Available: true},
		{Name: "Dune", Pages: 3, Available: false},
	}, lib.Books)

	err := lib.RemoveBook("Nope")
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.Len(t, lib.Books, 2)
}

func TestToggleAvailability(t *testing.T) {
	lib := &Library{Books: []Book{
		{Name: "Dune", Pages: 1, Available: true},
		{Name: "Dune", Pages: 2, Available: true},
	}}

	available, err := lib.ToggleAvailability("Dune")
	require.NoError(t, err)
	assert.False(t, available)
	assert.False(t, lib.Books[0].Available)
	assert.True(t, lib.Books[1].Available, "only the first match flips")

	available, err = lib.ToggleAvailability("Dune")
	require.NoError(t, err)
	assert.True(t, available)

	_, err = lib.ToggleAvailability("Nope")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestListBooksIsACopy(t *testing.T) {
	lib := &Library{Books: []Book{{Name: "Dune", Pages: 1, Available: true}}}

	books := lib.ListBooks()
	books[0].Available = false

	assert.True(t, lib.Books[0].Available)
	assert.NotNil(t, (&Library{}).ListBooks())
}

func TestAuthorize(t *testing.T) {
	var owner, other identity.Identity
	owner[0], other[0] = 1, 2
	lib := &Library{Owner: owner}

	assert.NoError(t, authorize(lib, owner))
	assert.ErrorIs(t, authorize(lib, other), ErrNotOwner)
}
