// internal/poll/orchestrator.go

// Package poll schedules the recurring fetches that feed a dialogue session:
// guidance text, assignment plus helper location, unread peer messages, and
// the case snapshot. Each task is isolated; one failing never stops the
// others, and a slow fetch never overlaps itself.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/user/lifeline/internal/dialogue"
	"github.com/user/lifeline/internal/types"
)

// Intervals configures the cadence of each polling task.
type Intervals struct {
	Guide      time.Duration
	Assignment time.Duration
	Messages   time.Duration
}

// DefaultIntervals matches the cadence the conversation was designed
// around: guidance every 5s until ready, assignment and helper location
// every 2s, peer messages every 3s.
func DefaultIntervals() Intervals {
	return Intervals{
		Guide:      5 * time.Second,
		Assignment: 2 * time.Second,
		Messages:   3 * time.Second,
	}
}

// cronParser accepts 6-field expressions with a seconds field as well as
// @every descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Orchestrator supervises the four periodic fetch tasks for one session.
// Results are applied through the session's entry points, which serialize
// them against user actions.
type Orchestrator struct {
	session     *dialogue.Session
	guides      types.GuidanceProvider
	cases       types.CaseStore
	assignments types.AssignmentStore
	locations   types.LocationStore
	bus         types.MessageBus
	intervals   Intervals

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	// One guard per task: a cycle that finds the previous fetch still in
	// flight skips its turn instead of piling up.
	guideGuard  *semaphore.Weighted
	assignGuard *semaphore.Weighted
	msgGuard    *semaphore.Weighted
}

// New creates an orchestrator for the given session and collaborators.
func New(
	session *dialogue.Session,
	guides types.GuidanceProvider,
	cases types.CaseStore,
	assignments types.AssignmentStore,
	locations types.LocationStore,
	bus types.MessageBus,
	intervals Intervals,
) *Orchestrator {
	return &Orchestrator{
		session:     session,
		guides:      guides,
		cases:       cases,
		assignments: assignments,
		locations:   locations,
		bus:         bus,
		intervals:   intervals,
		cron:        cron.New(cron.WithParser(cronParser)),
		guideGuard:  semaphore.NewWeighted(1),
		assignGuard: semaphore.NewWeighted(1),
		msgGuard:    semaphore.NewWeighted(1),
	}
}

// Start fetches the case snapshot once, registers the recurring tasks, and
// starts the ticker. The returned error only reflects schedule registration;
// fetch failures are absorbed and retried per cycle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	// Initial case snapshot, off the caller's thread.
	go o.caseCycle(o.ctx)

	tasks := []struct {
		name  string
		every time.Duration
		guard *semaphore.Weighted
		run   func(context.Context)
	}{
		{"guide", o.intervals.Guide, o.guideGuard, o.guideCycle},
		{"assignment", o.intervals.Assignment, o.assignGuard, o.assignmentCycle},
		{"messages", o.intervals.Messages, o.msgGuard, o.messagesCycle},
	}
	for _, task := range tasks {
		guard, run, name := task.guard, task.run, task.name
		spec := fmt.Sprintf("@every %s", task.every)
		if _, err := o.cron.AddFunc(spec, func() {
			if o.ctx.Err() != nil {
				return
			}
			if !guard.TryAcquire(1) {
				slog.Debug("poll cycle skipped, previous fetch in flight", "task", name)
				return
			}
			defer guard.Release(1)
			run(o.ctx)
		}); err != nil {
			return fmt.Errorf("schedule %s poll: %w", name, err)
		}
	}

	o.cron.Start()
	slog.Info("polling started",
		"guide_interval", o.intervals.Guide,
		"assignment_interval", o.intervals.Assignment,
		"messages_interval", o.intervals.Messages,
	)
	return nil
}

// Stop cancels all tasks and waits for any running cycle to finish. A cycle
// already awaiting a response observes the cancelled context and its result
// is discarded by the closed session.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	<-o.cron.Stop().Done()
}

// guideCycle polls for the opening guidance until it arrives, then becomes a
// no-op. Misses and failures are counted so integrators can surface a retry
// affordance, but polling itself never gives up.
func (o *Orchestrator) guideCycle(ctx context.Context) {
	if o.session.GuidanceReceived() {
		return
	}
	g, err := o.guides.FetchGuidance(ctx, o.session.Config().GuidanceRef())
	if err != nil {
		slog.Warn("guidance poll failed", "error", err, "attempts", o.session.GuidanceAttempts())
		o.session.NoteGuidanceMiss()
		return
	}
	if !g.Ready {
		o.session.NoteGuidanceMiss()
		return
	}
	o.session.ApplyGuidance(g.Text)
	slog.Info("guidance received", "case_id", o.session.Config().CaseID)
}

// assignmentCycle refreshes the assignment, the helper's live location, and
// the case snapshot. Every sub-fetch is replace-on-success,
// keep-previous-on-failure.
func (o *Orchestrator) assignmentCycle(ctx context.Context) {
	caseID := o.session.Config().CaseID

	list, err := o.assignments.FetchAssignmentsForCase(ctx, caseID)
	if err != nil {
		slog.Debug("assignment poll failed", "case_id", caseID, "error", err)
	} else {
		var active *types.Assignment
		for _, a := range list {
			if a.Active() {
				active = a
				break
			}
		}
		// A successful fetch with no active assignment clears both the
		// assignment and the helper location.
		o.session.ApplyAssignment(active)

		if active != nil {
			loc, err := o.locations.FetchLatestLocation(ctx, active.HelperUserID)
			if err != nil {
				slog.Debug("helper location poll failed", "helper_id", active.HelperUserID, "error", err)
			} else if loc != nil {
				o.session.ApplyHelperLocation(*loc)
			}
		}
	}

	c, err := o.cases.FetchCase(ctx, caseID)
	if err != nil {
		slog.Debug("case poll failed", "case_id", caseID, "error", err)
		return
	}
	o.session.ApplyCase(c)
}

// caseCycle fetches the case snapshot on its own. Start runs it once up
// front so the session has case context before the first assignment cycle.
func (o *Orchestrator) caseCycle(ctx context.Context) {
	caseID := o.session.Config().CaseID
	c, err := o.cases.FetchCase(ctx, caseID)
	if err != nil {
		slog.Debug("case fetch failed", "case_id", caseID, "error", err)
		return
	}
	o.session.ApplyCase(c)
}

// messagesCycle fetches unread peer messages while an active assignment
// exists and merges them into the timeline.
func (o *Orchestrator) messagesCycle(ctx context.Context) {
	active, ok := o.session.ActiveAssignment()
	if !ok {
		return
	}
	msgs, err := o.bus.FetchUnread(ctx, active.ID, o.session.Config().Role)
	if err != nil {
		slog.Debug("peer message poll failed", "assignment_id", active.ID, "error", err)
		return
	}
	o.session.ApplyPeerMessages(msgs)
}
