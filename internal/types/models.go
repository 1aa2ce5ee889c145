// internal/types/models.go
package types

import (
	"time"
)

// Author tags which party a conversation entry belongs to. The assigned
// helper and the automated guidance voice are both surfaced as the
// counterpart; the local user is always self.
type Author string

const (
	AuthorSelf        Author = "self"
	AuthorCounterpart Author = "counterpart"
)

// Arity distinguishes single-choice questions (answering sends immediately)
// from multiple-choice questions (selections accumulate until confirmed).
type Arity string

const (
	AritySingle   Arity = "single"
	ArityMultiple Arity = "multiple"
)

// Option is one answerable choice attached to a question.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Question is the interactive part of a conversation entry. The Key is the
// decision-tree node the answer will be resolved against; entries sourced
// from a human peer carry an empty key and resolve to the fallback branch.
type Question struct {
	Key     string   `json:"key,omitempty"`
	Arity   Arity    `json:"arity"`
	Options []Option `json:"options"`
}

// ConversationEntry is one immutable message in the timeline. Updates happen
// only by appending new entries, never by mutating existing ones.
type ConversationEntry struct {
	ID        EntryID   `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Author    Author    `json:"author"`
	Question  *Question `json:"question,omitempty"`
}

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CaseSnapshot is the backend's static view of a help request.
type CaseSnapshot struct {
	ID                   CaseID     `json:"id"`
	Status               string     `json:"status"`
	Urgency              string     `json:"urgency"`
	DangerLevel          string     `json:"danger_level"`
	PeopleCount          int        `json:"people_count"`
	VulnerabilityFactors []string   `json:"vulnerability_factors"`
	Description          string     `json:"description"`
	Location             Coordinate `json:"location"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Assignment links a helper to a case. A nil CompletedAt means the
// assignment is still active.
type Assignment struct {
	ID           AssignmentID `json:"id"`
	CaseID       CaseID       `json:"case_id"`
	HelperUserID UserID       `json:"helper_user_id"`
	AssignedAt   time.Time    `json:"assigned_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Outcome      string       `json:"outcome,omitempty"`
}

// Active reports whether the assignment has not been completed yet.
func (a *Assignment) Active() bool {
	return a != nil && a.CompletedAt == nil
}

// SessionSnapshot aggregates the externally sourced state of a session.
// Every field is replace-on-success, keep-previous-on-failure; missing
// sub-state is rendered as absence, never as an error.
type SessionSnapshot struct {
	Case           *CaseSnapshot `json:"case,omitempty"`
	Assignment     *Assignment   `json:"assignment,omitempty"`
	HelperLocation *Coordinate   `json:"helper_location,omitempty"`
}

// Guidance is the AI-generated opening advice for a case or assignment.
// Ready is false while the backend is still composing it.
type Guidance struct {
	Text  string `json:"text"`
	Ready bool   `json:"ready"`
}

// PeerMessage is a message from the other human party, fetched via polling.
type PeerMessage struct {
	ID        MessageID `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Question  *Question `json:"question,omitempty"`
}

// SendRequest is an outbound peer message.
type SendRequest struct {
	AssignmentID AssignmentID `json:"assignment_id"`
	CaseID       CaseID       `json:"case_id"`
	Sender       Role         `json:"sender"`
	Type         string       `json:"type"`
	Text         string       `json:"text"`
}

// SendAck confirms the backend accepted an outbound message.
type SendAck struct {
	MessageID MessageID `json:"message_id"`
}
