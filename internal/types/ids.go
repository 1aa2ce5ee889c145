// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type EntryID string
type CaseID int64
type AssignmentID int64
type UserID int64
type MessageID string

// Role identifies which side of the conversation this client speaks for.
type Role string

const (
	RoleCaller Role = "caller"
	RoleHelper Role = "helper"
)

// NewEntryID returns a fresh ID for a locally originated conversation entry.
// Backend-confirmed entries carry IDs derived from the backend message ID
// instead, so local and remote entries can never collide.
func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

// PeerEntryID derives a stable entry ID from a backend message ID.
// Repeated delivery of the same message maps to the same entry ID, which is
// what makes timeline merging replay-safe.
func PeerEntryID(id MessageID) EntryID {
	return EntryID("peer-" + string(id))
}
