package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/local"
	"calshare/internal/models"
	"calshare/internal/offline"
	"calshare/internal/remote"

	"github.com/google/uuid"
)

// TiePolicy decides a paired event whose local and remote lastModified are equal.
type TiePolicy int

const (
	// LocalWinsTies leaves both sides untouched on a tie. Equal timestamps
	// usually mean the pair has not been re-synced yet, not a real conflict.
	LocalWinsTies TiePolicy = iota
	// RemoteWinsTies overwrites the local entry on a tie.
	RemoteWinsTies
)

// DefaultTiePolicy is used when Options leaves Ties unset.
const DefaultTiePolicy = LocalWinsTies

func (p TiePolicy) String() string {
	if p == RemoteWinsTies {
		return "remote"
	}
	return "local"
}

// ParseTiePolicy accepts "local" or "remote".
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch s {
	case "", "local":
		return LocalWinsTies, nil
	case "remote":
		return RemoteWinsTies, nil
	}
	return 0, fmt.Errorf("unknown tie policy %q", s)
}

// Report stages.
const (
	StagePermission = "permission"
	StagePending    = "pending"
	StageRemote     = "remote"
	StageLocal      = "local"
	StagePair       = "pair"
	StageRemoteOnly = "remote-only"
	StageLocalOnly  = "local-only"
	StageInvite     = "invitations"
	StageCache      = "cache"
)

// Cache is the offline cache surface a pass reads and writes.
type Cache interface {
	Pending() ([]*models.Event, error)
	Dequeue(id string) (bool, error)
	Store(month string, events []*models.Event, savedAt time.Time) error
	SaveReport(r *models.SyncReport) error
}

// Propagator refreshes invitations after a local edit was pushed remotely.
type Propagator interface {
	PropagateUpdate(ctx context.Context, e *models.Event) error
}

// Options configure a Syncer. Every field is optional.
type Options struct {
	Cache   Cache
	Inviter Propagator
	Clock   func() time.Time
	DryRun  bool
	Ties    TiePolicy
}

// Syncer reconciles the device calendar with the remote store.
type Syncer struct {
	logger  *slog.Logger
	local   local.Provider
	remote  remote.Events
	cache   Cache
	inviter Propagator
	clock   func() time.Time
	dryRun  bool
	ties    TiePolicy
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, provider local.Provider, events remote.Events, opts Options) *Syncer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Syncer{
		logger:  logger,
		local:   provider,
		remote:  events,
		cache:   opts.Cache,
		inviter: opts.Inviter,
		clock:   opts.Clock,
		dryRun:  opts.DryRun,
		ties:    opts.Ties,
	}
}

// pass holds the state of one Run.
type pass struct {
	sess       models.Session
	report     *models.SyncReport
	reconciled []*models.Event
	defaultCal string
	// queued holds device refs of events still waiting in the pending queue.
	queued map[string]bool
}

// Run performs one reconciliation pass over w. Per-event failures are
// collected in the report and never abort the pass; a refused or unreachable
// device calendar, or an unreachable remote store, ends it early.
func (s *Syncer) Run(ctx context.Context, sess models.Session, w models.Window) *models.SyncReport {
	s.logger.Info("Starting sync cycle.", "user", sess.UserID, "from", w.Start, "to", w.End, "dryRun", s.dryRun)
	p := &pass{sess: sess, report: &models.SyncReport{Window: w}, queued: map[string]bool{}}

	if err := s.checkPermission(ctx); err != nil {
		return s.abort(p, StagePermission, err)
	}

	s.drainPending(ctx, p)

	remoteEvents, err := s.remote.QueryEvents(ctx, sess.UserID, w.Start, w.End)
	if err != nil {
		return s.abort(p, StageRemote, fmt.Errorf("failed to query remote events: %w", err))
	}

	cals, err := s.local.ListCalendars(ctx)
	if err != nil {
		return s.abort(p, StageLocal, fmt.Errorf("failed to list device calendars: %w", err))
	}
	if cal, ok := local.DefaultCalendar(cals); ok {
		p.defaultCal = cal.ID
	}
	localEvents, err := s.local.ListEvents(ctx, local.WritableIDs(cals), w.Start, w.End)
	if err != nil {
		return s.abort(p, StageLocal, fmt.Errorf("failed to list device events: %w", err))
	}
	s.logger.Info("Fetched both sides.", "remote", len(remoteEvents), "local", len(localEvents))

	byRef := make(map[string]local.Event, len(localEvents))
	for _, l := range localEvents {
		byRef[l.Ref] = l
	}
	claimed := make(map[string]bool, len(remoteEvents)+len(p.queued))
	for ref := range p.queued {
		claimed[ref] = true
	}
	for _, r := range remoteEvents {
		if l, ok := byRef[r.LocalRef]; ok && r.LocalRef != "" {
			claimed[r.LocalRef] = true
			s.reconcilePair(ctx, p, r, l)
			continue
		}
		s.pullRemoteOnly(ctx, p, r)
	}
	for _, l := range localEvents {
		if !claimed[l.Ref] {
			s.pushLocalOnly(ctx, p, l)
		}
	}

	s.finish(p)
	return p.report
}

func (p *pass) queue(e *models.Event) {
	if e.LocalRef != "" {
		p.queued[e.LocalRef] = true
	}
}

func (s *Syncer) checkPermission(ctx context.Context) error {
	perm, err := s.local.RequestPermission(ctx)
	if err != nil {
		return err
	}
	if perm != local.Granted {
		return apperr.PermissionDenied("syncer.Run", errors.New("calendar access was not granted"))
	}
	return nil
}

// drainPending creates the events whose remote write failed during save.
func (s *Syncer) drainPending(ctx context.Context, p *pass) {
	if s.cache == nil {
		return
	}
	queue, err := s.cache.Pending()
	if err != nil {
		p.report.AddError(StagePending, nil, fmt.Errorf("failed to read pending queue: %w", err))
		return
	}
	for _, e := range queue {
		if e.OwnerID != p.sess.UserID {
			continue
		}
		if s.dryRun {
			s.logger.Info("[DRY RUN] Would upload queued event.", "title", e.Title, "id", e.ID)
			p.queue(e)
			p.report.Added++
			continue
		}
		if err := s.uploadQueued(ctx, e); err != nil {
			p.queue(e)
			p.report.AddError(StagePending, e, err)
			continue
		}
		if _, err := s.cache.Dequeue(e.ID); err != nil {
			p.report.AddError(StagePending, e, fmt.Errorf("failed to dequeue: %w", err))
		}
		p.report.Added++
		s.logger.Info("Queued event uploaded.", "title", e.Title, "id", e.ID)
	}
}

// uploadQueued creates e remotely. If an earlier attempt already landed,
// the queued copy replaces it when newer.
func (s *Syncer) uploadQueued(ctx context.Context, e *models.Event) error {
	err := s.remote.CreateEvent(ctx, e)
	if !errors.Is(err, apperr.ErrConflict) {
		return err
	}
	cur, err := s.remote.GetEvent(ctx, e.ID)
	if err != nil {
		return err
	}
	if !e.LastModified.After(cur.LastModified) {
		return nil
	}
	return s.remote.ReplaceEvent(ctx, e, cur.LastModified)
}

func (s *Syncer) reconcilePair(ctx context.Context, p *pass, r *models.Event, l local.Event) {
	remoteFields := local.FieldsOf(r)
	if l.Fields.Equal(remoteFields) {
		p.reconciled = append(p.reconciled, r)
		return
	}

	localLM := models.Stamp(l.LastModified)
	switch {
	case r.LastModified.After(localLM), r.LastModified.Equal(localLM) && s.ties == RemoteWinsTies:
		s.pullIntoLocal(ctx, p, r, l)
	case localLM.After(r.LastModified):
		s.pushToRemote(ctx, p, r, l, localLM)
	default:
		s.logger.Debug("Tie left untouched.", "title", r.Title, "id", r.ID, "policy", s.ties)
		p.reconciled = append(p.reconciled, r)
	}
}

func (s *Syncer) pullIntoLocal(ctx context.Context, p *pass, r *models.Event, l local.Event) {
	p.reconciled = append(p.reconciled, r)
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would update device event from remote.", "title", r.Title, "ref", l.Ref)
		p.report.Updated++
		return
	}
	if err := s.local.UpdateEvent(ctx, l.Ref, local.FieldsOf(r)); err != nil {
		p.report.AddError(StagePair, r, fmt.Errorf("failed to update device event: %w", err))
		return
	}
	p.report.Updated++
	s.logger.Info("Device event updated from remote.", "title", r.Title, "id", r.ID)
}

func (s *Syncer) pushToRemote(ctx context.Context, p *pass, r *models.Event, l local.Event, localLM time.Time) {
	next := r.Clone()
	l.Fields.Apply(next)
	next.StartTime = models.Stamp(next.StartTime)
	next.EndTime = models.Stamp(next.EndTime)
	next.LastModified = localLM

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would update remote event from device.", "title", next.Title, "id", r.ID)
		p.reconciled = append(p.reconciled, next)
		p.report.Updated++
		return
	}
	if err := s.remote.ReplaceEvent(ctx, next, r.LastModified); err != nil {
		p.reconciled = append(p.reconciled, r)
		p.report.AddError(StagePair, r, fmt.Errorf("failed to update remote event: %w", err))
		return
	}
	p.reconciled = append(p.reconciled, next)
	p.report.Updated++
	s.logger.Info("Remote event updated from device.", "title", next.Title, "id", r.ID)

	if s.inviter != nil && len(next.Attendees) > 0 {
		if err := s.inviter.PropagateUpdate(ctx, next); err != nil {
			p.report.AddError(StageInvite, next, err)
		}
	}
}

// pullRemoteOnly creates r on the device and records the new ref remotely.
// If the ref cannot be recorded the device entry is removed again, so the
// next pass does not see it as local-only and upload a duplicate.
func (s *Syncer) pullRemoteOnly(ctx context.Context, p *pass, r *models.Event) {
	p.reconciled = append(p.reconciled, r)
	if p.defaultCal == "" {
		p.report.AddError(StageRemoteOnly, r, apperr.NotFound("syncer.Run", "writable calendar", "default"))
		return
	}
	if s.dryRun {
		s.logger.Info("[DRY RUN] Would create device event.", "title", r.Title, "startTime", r.StartTime)
		p.report.Added++
		return
	}

	ref, err := s.local.CreateEvent(ctx, p.defaultCal, local.FieldsOf(r))
	if err != nil {
		p.report.AddError(StageRemoteOnly, r, fmt.Errorf("failed to create device event: %w", err))
		return
	}

	next := r.Clone()
	next.LocalRef = ref
	next.LastModified = bump(s.clock(), r.LastModified)
	if err := s.remote.ReplaceEvent(ctx, next, r.LastModified); err != nil {
		if derr := s.local.DeleteEvent(ctx, ref); derr != nil {
			s.logger.Warn("Failed to remove orphaned device event.", "ref", ref, "error", derr)
		}
		p.report.AddError(StageRemoteOnly, r, fmt.Errorf("failed to record device ref: %w", err))
		return
	}
	p.reconciled[len(p.reconciled)-1] = next
	p.report.Added++
	s.logger.Info("Device event created from remote.", "title", r.Title, "id", r.ID, "ref", ref)
}

func (s *Syncer) pushLocalOnly(ctx context.Context, p *pass, l local.Event) {
	now := models.Stamp(s.clock())
	e := &models.Event{
		ID:            uuid.NewString(),
		OwnerID:       p.sess.UserID,
		OrganizerName: p.sess.DisplayName,
		LocalRef:      l.Ref,
		CreatedAt:     now,
		LastModified:  models.Stamp(l.LastModified),
	}
	l.Fields.Apply(e)
	e.StartTime = models.Stamp(e.StartTime)
	e.EndTime = models.Stamp(e.EndTime)

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would create remote event.", "title", e.Title, "ref", l.Ref)
		p.reconciled = append(p.reconciled, e)
		p.report.Added++
		return
	}
	if err := s.remote.CreateEvent(ctx, e); err != nil {
		p.report.AddError(StageLocalOnly, e, fmt.Errorf("failed to create remote event: %w", err))
		return
	}
	p.reconciled = append(p.reconciled, e)
	p.report.Added++
	s.logger.Info("Remote event created from device.", "title", e.Title, "id", e.ID)
}

func (s *Syncer) abort(p *pass, stage string, err error) *models.SyncReport {
	s.logger.Error("Sync cycle aborted.", "stage", stage, "error", err)
	p.report.AddError(stage, nil, err)
	p.report.LastSyncTimestamp = models.Stamp(s.clock())
	return p.report
}

// finish persists the report and the reconciled set.
func (s *Syncer) finish(p *pass) {
	now := models.Stamp(s.clock())
	p.report.LastSyncTimestamp = now
	if !s.dryRun && s.cache != nil {
		if err := s.cache.Store(offline.MonthKey(now), p.reconciled, now); err != nil {
			p.report.AddError(StageCache, nil, err)
		}
		if err := s.cache.SaveReport(p.report); err != nil {
			p.report.AddError(StageCache, nil, err)
		}
	}
	s.logger.Info("Sync cycle finished.", "added", p.report.Added, "updated", p.report.Updated,
		"errors", len(p.report.Errors))
}

// bump returns now, or the instant after prev if now is not later.
func bump(now, prev time.Time) time.Time {
	now = models.Stamp(now)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
