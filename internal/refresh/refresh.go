// Package refresh pulls a fresh snapshot from the portal and external
// feeds into the local store, on demand or on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"portalcal/internal/calendar"
	"portalcal/internal/fetch"
	"portalcal/internal/ics"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
	"portalcal/internal/portal"
	"portalcal/internal/schedule"
	"portalcal/internal/store"
)

// Feed expansion window used when no term is configured.
const (
	feedLookBack  = 90 * 24 * time.Hour
	feedLookAhead = 180 * 24 * time.Hour
)

// ErrBusy is returned when a refresh is already running.
var ErrBusy = errors.New("refresh: already running")

// Portal is the subset of portal.Client a refresh needs.
type Portal interface {
	Profile(ctx context.Context) (portal.Profile, error)
	ClassTimeline(ctx context.Context, studentID string) ([]model.ScheduleEntry, error)
	ClassSchedules(ctx context.Context) ([]schedule.ClassSchedule, error)
	Attendance(ctx context.Context, studentID string) ([]model.AttendanceRecord, error)
	AttendanceSummary(ctx context.Context, studentID string) (portal.AttendanceSummary, error)
}

// Job is one refresh pipeline: profile, class timeline, weekly schedules
// materialized over the term, ICS feeds and the attendance log, written
// to the store as one snapshot.
type Job struct {
	Portal Portal
	Store  *store.Store
	// Fetcher downloads Feeds. Nil disables feeds.
	Fetcher *fetch.Fetcher
	Feeds   []ics.Source

	// StudentID skips the profile lookup when set.
	StudentID string

	// Schedules are local weekly slots merged with the portal's.
	Schedules []schedule.ClassSchedule
	// Term is required for weekly schedules to be materialized.
	Term     *schedule.Term
	Holidays []schedule.Holiday

	Location *time.Location
	Now      func() time.Time

	// OnSuccess runs after a snapshot is stored.
	OnSuccess func(ctx context.Context, r store.Refresh)

	mu sync.Mutex
}

// Run performs one refresh. The timeline and attendance are required;
// schedule and feed failures are logged and the rest of the snapshot is
// still stored. Every run, failed or not, is recorded in the store.
func (j *Job) Run(ctx context.Context) (store.Refresh, error) {
	if !j.mu.TryLock() {
		return store.Refresh{}, ErrBusy
	}
	defer j.mu.Unlock()

	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	loc := j.Location
	if loc == nil {
		loc = time.Local
	}

	rec := store.Refresh{StartedAt: now()}
	err := j.run(ctx, loc, now, &rec)
	rec.FinishedAt = now()
	if err != nil {
		rec.Err = err.Error()
	}

	if saved, rerr := j.Store.RecordRefresh(ctx, rec); rerr != nil {
		appLog.Error("refresh: failed to record run", rerr)
	} else {
		rec = saved
	}

	if err != nil {
		appLog.Error("refresh failed", err, "elapsed", rec.FinishedAt.Sub(rec.StartedAt).String())
		return rec, err
	}
	appLog.Info("refresh completed",
		"entries", rec.Entries,
		"attendance", rec.Attendance,
		"dropped", rec.Dropped,
		"elapsed", rec.FinishedAt.Sub(rec.StartedAt).String(),
	)
	if j.OnSuccess != nil {
		j.OnSuccess(ctx, rec)
	}
	return rec, nil
}

func (j *Job) run(ctx context.Context, loc *time.Location, now func() time.Time, rec *store.Refresh) error {
	studentID := j.StudentID
	if studentID == "" {
		p, err := j.Portal.Profile(ctx)
		if err != nil {
			return fmt.Errorf("refresh: profile: %w", err)
		}
		studentID = p.StudentID
	}

	timeline, err := j.Portal.ClassTimeline(ctx, studentID)
	if err != nil {
		return fmt.Errorf("refresh: class timeline: %w", err)
	}
	records, err := j.Portal.Attendance(ctx, studentID)
	if err != nil {
		return fmt.Errorf("refresh: attendance: %w", err)
	}

	entries := append([]model.ScheduleEntry{}, timeline...)
	entries = append(entries, j.materialize(ctx, loc)...)
	entries = append(entries, j.feedEntries(ctx, loc, now())...)
	entries = Dedupe(entries, loc)

	snap := store.Snapshot{Entries: entries, Attendance: records, FetchedAt: now()}
	if sum, err := j.Portal.AttendanceSummary(ctx, studentID); err != nil {
		appLog.Warn("refresh: attendance summary unavailable", "err", err.Error())
	} else {
		rate := sum.AttendanceRate
		snap.PortalRate = &rate
	}

	stats, err := j.Store.ReplaceSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	rec.Entries = stats.Entries.Stored
	rec.Attendance = stats.Attendance.Stored
	rec.Dropped = stats.Entries.Dropped + stats.Attendance.Dropped
	return nil
}

func (j *Job) materialize(ctx context.Context, loc *time.Location) []model.ScheduleEntry {
	if j.Term == nil {
		return nil
	}

	slots := append([]schedule.ClassSchedule{}, j.Schedules...)
	remote, err := j.Portal.ClassSchedules(ctx)
	if err != nil {
		appLog.Error("refresh: class schedules unavailable, using local slots only", err)
	} else {
		slots = append(slots, remote...)
	}

	res, err := schedule.Materialize(slots, schedule.ExpandConfig{
		Location: loc,
		Term:     *j.Term,
		Holidays: j.Holidays,
	})
	if err != nil {
		appLog.Error("refresh: materialize failed", err, "term", j.Term.Name)
		return nil
	}
	return res.Entries
}

func (j *Job) feedEntries(ctx context.Context, loc *time.Location, now time.Time) []model.ScheduleEntry {
	if j.Fetcher == nil || len(j.Feeds) == 0 {
		return nil
	}

	cfg := ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      now.Add(-feedLookBack),
		RangeEnd:        now.Add(feedLookAhead),
	}
	if j.Term != nil {
		cfg.RangeStart = civilMidnight(j.Term.Start, loc)
		cfg.RangeEnd = civilMidnight(j.Term.End, loc).AddDate(0, 0, 1)
	}

	bySource := make(map[string]ics.Source, len(j.Feeds))
	reqs := make([]fetch.Request, 0, len(j.Feeds))
	for _, f := range j.Feeds {
		bySource[f.ID] = f
		reqs = append(reqs, fetch.Request{ID: f.ID, URL: f.URL})
	}
	results, _ := j.Fetcher.GetAll(ctx, reqs)

	out := make([]model.ScheduleEntry, 0)
	for _, r := range results {
		res, err := ics.ParseEntries(bySource[r.Request.ID], r.Body, cfg)
		if err != nil {
			appLog.Error("refresh: feed skipped", err, "id", r.Request.ID)
			continue
		}
		out = append(out, res.Entries...)
	}
	return out
}

// civilMidnight is midnight in loc of t's calendar date as written,
// ignoring the zone t was parsed in.
func civilMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Dedupe drops entries that repeat an earlier entry's day, course and
// start time. Earlier entries win, so timeline rows take precedence over
// materialized and feed rows. Entries without a usable date pass through
// for the store to count.
func Dedupe(entries []model.ScheduleEntry, loc *time.Location) []model.ScheduleEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]model.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		key, ok := calendar.NormalizeIn(e.ClassDate, loc)
		if ok {
			start := e.StartTime
			if m, ok := calendar.ClockMinutes(start); ok {
				start = fmt.Sprintf("%02d:%02d", m/60, m%60)
			}
			k := key + "|" + e.CourseName + "|" + start
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, e)
	}
	return out
}

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	c   *cron.Cron
	loc *time.Location
}

// NewScheduler registers job under spec (standard 5-field cron) in loc.
// Overlapping runs are skipped.
func NewScheduler(spec string, loc *time.Location, job *Job, timeout time.Duration) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, _ = job.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid cron spec %q: %w", spec, err)
	}
	return &Scheduler{c: c, loc: loc}, nil
}

// Start begins running scheduled refreshes in the background.
func (s *Scheduler) Start() {
	s.c.Start()
	appLog.Info("refresh scheduler started", "next", s.Next().Format(time.RFC3339))
}

// Next returns the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().In(s.loc))
}

// Stop stops the scheduler and waits for a running refresh to finish or
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
