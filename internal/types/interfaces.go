// internal/types/interfaces.go
package types

import (
	"context"
)

// GuidanceProvider serves the AI-generated opening guidance. The ref is a
// case ID for callers and an assignment ID for helpers; callers poll until
// the returned Guidance is Ready.
type GuidanceProvider interface {
	FetchGuidance(ctx context.Context, ref int64) (Guidance, error)
}

// CaseStore serves case snapshots.
type CaseStore interface {
	FetchCase(ctx context.Context, id CaseID) (*CaseSnapshot, error)
}

// AssignmentStore serves helper assignments.
type AssignmentStore interface {
	FetchAssignmentsForCase(ctx context.Context, id CaseID) ([]*Assignment, error)
	FetchAssignment(ctx context.Context, id AssignmentID) (*Assignment, error)
}

// LocationStore serves last-known user coordinates. A nil Coordinate with a
// nil error means no location has been reported yet.
type LocationStore interface {
	FetchLatestLocation(ctx context.Context, id UserID) (*Coordinate, error)
}

// MessageBus exchanges messages between the two human parties of an
// assignment.
type MessageBus interface {
	FetchUnread(ctx context.Context, id AssignmentID, recipient Role) ([]PeerMessage, error)
	Send(ctx context.Context, req SendRequest) (SendAck, error)
}

// ProfileStore persists per-user client preferences (role, disaster
// selection, last case). It backs the command layer only; the conversation
// engine never reads it.
type ProfileStore interface {
	Get(ctx context.Context, key string) (*Profile, error)
	Put(ctx context.Context, key string, p *Profile) error
}

// Profile is the persisted client configuration for one user key.
type Profile struct {
	Role         Role         `json:"role"`
	DisasterID   string       `json:"disaster_id,omitempty"`
	CaseID       CaseID       `json:"case_id,omitempty"`
	AssignmentID AssignmentID `json:"assignment_id,omitempty"`
}
