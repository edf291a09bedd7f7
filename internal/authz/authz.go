// Package authz is the single place ownership of credential records is
// decided. Handlers never compare owner IDs themselves; they ask this
// package, so the superuser override cannot drift between operations.
package authz

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Caller is the resolved identity of the current request.
type Caller struct {
	ID        uuid.UUID
	Superuser bool
}

// CanAccess reports whether the caller may read or mutate a record
// owned by ownerID. Denials must surface to clients as not-found, never
// as forbidden: a forbidden response confirms the record exists.
func CanAccess(c Caller, ownerID uuid.UUID) bool {
	if c.Superuser {
		return true
	}
	return c.ID != uuid.Nil && c.ID == ownerID
}

// ScopeAccounts narrows an account query to what the caller may see.
// Superusers see every owner's records.
func ScopeAccounts(db *gorm.DB, c Caller) *gorm.DB {
	if c.Superuser {
		return db
	}
	return db.Where("author_id = ?", c.ID)
}

// ResolveOwner decides who a new record belongs to. Ownership is forced
// to the caller; only a superuser may create on behalf of another user.
func ResolveOwner(c Caller, requested uuid.UUID) uuid.UUID {
	if c.Superuser && requested != uuid.Nil {
		return requested
	}
	return c.ID
}
