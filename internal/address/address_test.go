package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"shelfkeeper/internal/identity"
)

func drawIdentity(t *rapid.T, label string) identity.Identity {
	var id identity.Identity
	copy(id[:], rapid.SliceOfN(rapid.Byte(), identity.Size, identity.Size).Draw(t, label))
	return id
}

func TestDeriveIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		label := rapid.String().Draw(t, "label")
		owner := drawIdentity(t, "owner")

		if Derive(label, owner) != Derive(label, owner) {
			t.Fatalf("derive(%q, %s) is not stable", label, owner)
		}
		if Namespace(label).Resolve(owner) != Derive(label, owner) {
			t.Fatalf("namespace resolver disagrees with derive")
		}
	})
}

func TestDeriveSeparatesOwners(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := drawIdentity(t, "a")
		b := drawIdentity(t, "b")
		if a == b {
			t.Skip("same owner drawn twice")
		}
		if Derive("library", a) == Derive("library", b) {
			t.Fatalf("owners %s and %s share an address", a, b)
		}
	})
}

func TestDeriveSeparatesNamespaces(t *testing.T) {
	var owner identity.Identity
	owner[0] = 1

	assert.NotEqual(t, Derive("library", owner), Derive("archive", owner))
	// "ab"+owner and "a"+("b"+owner[:31]) must not collide.
	var shifted identity.Identity
	shifted[0] = 'b'
	copy(shifted[1:], owner[:identity.Size-1])
	assert.NotEqual(t, Derive("ab", owner), Derive("a", shifted))
}

func TestParseRoundTrip(t *testing.T) {
	var owner identity.Identity
	owner[31] = 7
	addr := Derive("library", owner)

	parsed, err := Parse(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	_, err = Parse("xyz")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
