// internal/dialogue/session.go
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/lifeline/internal/types"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateClosed       State = "closed"
)

var (
	ErrClosed            = errors.New("session closed")
	ErrNotActive         = errors.New("session not active")
	ErrNoPendingQuestion = errors.New("no pending question")
	ErrUnknownOption     = errors.New("unknown option")
	ErrNothingSelected   = errors.New("nothing selected")
)

// confirmationText is appended after the backend acknowledges an outbound
// peer message.
const confirmationText = "Your message has been sent to the responder. They will receive your update."

// Config identifies the case and conversation side a session speaks for.
type Config struct {
	CaseID       types.CaseID
	AssignmentID types.AssignmentID
	Role         types.Role
}

// GuidanceRef returns the identifier the guidance provider is polled with:
// the case ID for callers, the assignment ID for helpers.
func (c Config) GuidanceRef() int64 {
	if c.Role == types.RoleHelper {
		return int64(c.AssignmentID)
	}
	return int64(c.CaseID)
}

// SessionOption configures optional behavior on a Session.
type SessionOption func(*Session)

// WithOnEntry registers a callback invoked for every entry appended to the
// timeline, in timeline-arrival order. Callbacks run outside the session
// lock and must not be relied on for ordering against concurrent reads.
func WithOnEntry(fn func(types.ConversationEntry)) SessionOption {
	return func(s *Session) { s.onEntry = append(s.onEntry, fn) }
}

// Session is the top-level state holder for one guided conversation. It
// exclusively owns the timeline and pending question; external state arrives
// via the Apply methods, user actions via SubmitFreeText / SelectOption /
// ConfirmSelection. All mutation is serialized on an internal mutex, so
// callbacks may interleave arbitrarily but never race.
type Session struct {
	cfg Config
	bus types.MessageBus

	mu               sync.Mutex
	state            State
	timeline         *Timeline
	pending          *types.ConversationEntry
	selection        []string
	snapshot         types.SessionSnapshot
	guidanceAttempts int

	now     func() time.Time
	onEntry []func(types.ConversationEntry)
}

// NewSession creates a session in the initializing state. The bus is used
// only to forward free-text updates while an assignment is active; it may be
// nil in purely local scenarios.
func NewSession(cfg Config, bus types.MessageBus, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		bus:      bus,
		state:    StateInitializing,
		timeline: NewTimeline(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the session's configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Entries returns a copy of the ordered timeline.
func (s *Session) Entries() []types.ConversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Entries()
}

// Pending returns the entry holding the currently answerable question, if
// any.
func (s *Session) Pending() (types.ConversationEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return types.ConversationEntry{}, false
	}
	return *s.pending, true
}

// Selection returns the option IDs accumulated for the pending
// multiple-choice question.
func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.selection))
	copy(out, s.selection)
	return out
}

// Snapshot returns a copy of the externally sourced session state.
func (s *Session) Snapshot() types.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.snapshot)
}

func copySnapshot(in types.SessionSnapshot) types.SessionSnapshot {
	out := types.SessionSnapshot{}
	if in.Case != nil {
		c := *in.Case
		out.Case = &c
	}
	if in.Assignment != nil {
		a := *in.Assignment
		out.Assignment = &a
	}
	if in.HelperLocation != nil {
		l := *in.HelperLocation
		out.HelperLocation = &l
	}
	return out
}

// GuidanceReceived reports whether the opening guidance has been installed.
func (s *Session) GuidanceReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateInitializing
}

// GuidanceAttempts returns how many guidance polls have come back not ready
// or failed. Integrators can surface a retry affordance once this grows
// large; the session itself never times out.
func (s *Session) GuidanceAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guidanceAttempts
}

// NoteGuidanceMiss records a guidance poll that did not produce a ready
// guide.
func (s *Session) NoteGuidanceMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guidanceAttempts++
}

// ActiveAssignment returns the current active assignment, if one exists.
func (s *Session) ActiveAssignment() (types.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snapshot.Assignment.Active() {
		return types.Assignment{}, false
	}
	return *s.snapshot.Assignment, true
}

// Close tears the session down. Terminal: every later mutation is rejected
// and late poll results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.pending = nil
	s.selection = nil
}

// newEntry builds a fresh immutable entry stamped with the session clock.
func (s *Session) newEntry(author types.Author, text string, q *types.Question) types.ConversationEntry {
	return types.ConversationEntry{
		ID:        types.NewEntryID(),
		Text:      text,
		Timestamp: s.now(),
		Author:    author,
		Question:  q,
	}
}

// append adds the entry to the timeline and, if it carries a question,
// installs it as the pending question. Caller must hold the lock.
func (s *Session) append(e types.ConversationEntry) types.ConversationEntry {
	s.timeline.Append(e)
	if e.Question != nil {
		s.setPending(e)
	}
	return e
}

// setPending supersedes any prior pending question. Caller must hold the
// lock.
func (s *Session) setPending(e types.ConversationEntry) {
	copied := e
	s.pending = &copied
	s.selection = nil
}

func (s *Session) notify(entries []types.ConversationEntry) {
	for _, e := range entries {
		for _, fn := range s.onEntry {
			fn(e)
		}
	}
}

// ApplyGuidance installs the opening guidance message and the root
// status-check question atomically, transitioning the session to active.
// Only the first call has any effect.
func (s *Session) ApplyGuidance(text string) {
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return
	}
	opening := s.append(s.newEntry(types.AuthorCounterpart, text, nil))
	root := s.append(s.newEntry(types.AuthorCounterpart, RootPrompt, RootQuestion()))
	s.state = StateActive
	s.mu.Unlock()

	s.notify([]types.ConversationEntry{opening, root})
}

// ApplyAssignment replaces the snapshot's assignment. A nil assignment (no
// active assignment found) clears both the assignment and the helper's live
// location.
func (s *Session) ApplyAssignment(a *types.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if !a.Active() {
		s.snapshot.Assignment = nil
		s.snapshot.HelperLocation = nil
		return
	}
	copied := *a
	s.snapshot.Assignment = &copied
}

// ApplyHelperLocation records the helper's last known coordinate. Ignored
// unless an active assignment exists.
func (s *Session) ApplyHelperLocation(c types.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || !s.snapshot.Assignment.Active() {
		return
	}
	copied := c
	s.snapshot.HelperLocation = &copied
}

// ApplyCase replaces the static case fields.
func (s *Session) ApplyCase(c *types.CaseSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || c == nil {
		return
	}
	copied := *c
	s.snapshot.Case = &copied
}

// ApplyPeerMessages merges unread peer messages into the timeline,
// deduplicated by backend message ID. If the latest merged message carries
// options, it supersedes any pending local question.
func (s *Session) ApplyPeerMessages(msgs []types.PeerMessage) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	incoming := make([]types.ConversationEntry, 0, len(msgs))
	for _, m := range msgs {
		incoming = append(incoming, types.ConversationEntry{
			ID:        types.PeerEntryID(m.ID),
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Author:    types.AuthorCounterpart,
			Question:  m.Question,
		})
	}
	added := s.timeline.MergeIncoming(incoming)
	for i := len(added) - 1; i >= 0; i-- {
		if added[i].Question != nil {
			s.setPending(added[i])
			break
		}
	}
	s.mu.Unlock()

	s.notify(added)
}

// SubmitFreeText appends the user's text optimistically, then either
// forwards it to the human peer (active assignment) or synthesizes the
// guidance voice's reply locally. The optimistic entry is never rolled
// back; a delivery failure is reported through the returned error with no
// confirmation marker appended.
func (s *Session) SubmitFreeText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != StateActive {
		err := ErrNotActive
		if s.state == StateClosed {
			err = ErrClosed
		}
		s.mu.Unlock()
		return err
	}
	self := s.append(s.newEntry(types.AuthorSelf, text, nil))
	s.pending = nil
	s.selection = nil
	assignment := s.snapshot.Assignment
	var active *types.Assignment
	if assignment.Active() {
		copied := *assignment
		active = &copied
	}
	s.mu.Unlock()
	s.notify([]types.ConversationEntry{self})

	if active != nil && s.bus != nil {
		// The counterpart is a real person now; no local auto-reply.
		_, err := s.bus.Send(ctx, types.SendRequest{
			AssignmentID: active.ID,
			CaseID:       s.cfg.CaseID,
			Sender:       s.cfg.Role,
			Type:         "answer",
			Text:         text,
		})
		if err != nil {
			return fmt.Errorf("deliver update: %w", err)
		}
		s.mu.Lock()
		if s.state != StateActive {
			s.mu.Unlock()
			return nil
		}
		confirm := s.append(s.newEntry(types.AuthorCounterpart, confirmationText, nil))
		s.mu.Unlock()
		s.notify([]types.ConversationEntry{confirm})
		return nil
	}

	var reply Reply
	if s.cfg.Role == types.RoleHelper {
		reply = HelperFollowUp(text)
	} else {
		reply = NextFreeText(text)
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	counterpart := s.append(s.newEntry(types.AuthorCounterpart, reply.Text, reply.Question))
	s.mu.Unlock()
	s.notify([]types.ConversationEntry{counterpart})
	return nil
}

// SelectOption answers the pending single-choice question immediately, or
// accumulates a selection for a multiple-choice question until
// ConfirmSelection is called. Selecting an already selected option
// deselects it.
func (s *Session) SelectOption(ctx context.Context, optionID string) error {
	s.mu.Lock()
	if s.state != StateActive {
		err := ErrNotActive
		if s.state == StateClosed {
			err = ErrClosed
		}
		s.mu.Unlock()
		return err
	}
	if s.pending == nil || s.pending.Question == nil {
		s.mu.Unlock()
		return ErrNoPendingQuestion
	}
	opt, ok := findOption(s.pending.Question, optionID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOption, optionID)
	}

	if s.pending.Question.Arity == types.ArityMultiple {
		s.toggleSelection(optionID)
		s.mu.Unlock()
		return nil
	}

	entries := s.resolveAnswer([]string{opt.ID}, opt.Label)
	s.mu.Unlock()
	s.notify(entries)
	return nil
}

// ConfirmSelection submits the accumulated multiple-choice selection.
func (s *Session) ConfirmSelection(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		err := ErrNotActive
		if s.state == StateClosed {
			err = ErrClosed
		}
		s.mu.Unlock()
		return err
	}
	if s.pending == nil || s.pending.Question == nil {
		s.mu.Unlock()
		return ErrNoPendingQuestion
	}
	if len(s.selection) == 0 {
		s.mu.Unlock()
		return ErrNothingSelected
	}

	labels := make([]string, 0, len(s.selection))
	for _, id := range s.selection {
		if opt, ok := findOption(s.pending.Question, id); ok {
			labels = append(labels, opt.Label)
		}
	}
	selected := make([]string, len(s.selection))
	copy(selected, s.selection)

	entries := s.resolveAnswer(selected, strings.Join(labels, ", "))
	s.mu.Unlock()
	s.notify(entries)
	return nil
}

// resolveAnswer appends the user's answer, clears the pending question, and
// appends the decision tree's reply, which may install a new pending
// question. Caller must hold the lock.
func (s *Session) resolveAnswer(selected []string, answerText string) []types.ConversationEntry {
	questionKey := s.pending.Question.Key
	self := s.append(s.newEntry(types.AuthorSelf, answerText, nil))
	s.pending = nil
	s.selection = nil

	reply := Next(questionKey, selected)
	counterpart := s.append(s.newEntry(types.AuthorCounterpart, reply.Text, reply.Question))
	return []types.ConversationEntry{self, counterpart}
}

// SubmitQuickAction sends one of the helper's canned status updates: the
// label lands in the timeline as the self entry, the full value drives the
// reply table.
func (s *Session) SubmitQuickAction(ctx context.Context, action QuickAction) error {
	s.mu.Lock()
	if s.state != StateActive {
		err := ErrNotActive
		if s.state == StateClosed {
			err = ErrClosed
		}
		s.mu.Unlock()
		return err
	}
	self := s.append(s.newEntry(types.AuthorSelf, action.Label, nil))
	reply := QuickActionReply(action.Value)
	counterpart := s.append(s.newEntry(types.AuthorCounterpart, reply.Text, reply.Question))
	s.mu.Unlock()
	s.notify([]types.ConversationEntry{self, counterpart})
	return nil
}

// toggleSelection flips optionID in the multi-select accumulation set,
// preserving first-selection order. Caller must hold the lock.
func (s *Session) toggleSelection(optionID string) {
	for i, id := range s.selection {
		if id == optionID {
			s.selection = append(s.selection[:i], s.selection[i+1:]...)
			return
		}
	}
	s.selection = append(s.selection, optionID)
}

func findOption(q *types.Question, id string) (types.Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return types.Option{}, false
}
