// internal/library/guard.go
package library

import "shelfkeeper/internal/identity"

// authorize admits caller only if it is the owner recorded in lib.
func authorize(lib *Library, caller identity.Identity) error {
	if lib.Owner != caller {
		return ErrNotOwner
	}
	return nil
}
