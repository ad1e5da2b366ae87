package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"gcgateway/internal/devices"
	"gcgateway/internal/geo"
	"gcgateway/internal/identity"
)

// Result is the outcome of one tracking call. Production callers are free
// to ignore it - tracking is fire and forget relative to the user action
// that triggered it - but the failure path stays observable for tests and
// logs. Recorded reports whether the event itself was appended; Err carries
// the first failure encountered, which may be a non-fatal aggregate miss.
type Result struct {
	Recorded bool
	Err      error
}

// Ok reports a fully successful tracking call.
func (r Result) Ok() bool {
	return r.Recorded && r.Err == nil
}

// Tracker is the analytics facade. It is constructed once at the
// composition root and handed to the HTTP layer; no global instance exists.
// Every method is safe to call before the store is initialized (nil
// manager): it degrades to a no-op instead of failing the caller.
type Tracker struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	resolver  *geo.Resolver
}

// NewTracker builds the facade. resolver may be nil when geolocation is
// disabled entirely.
func NewTracker(dbManager cartridge.DBManager, logger *slog.Logger, resolver *geo.Resolver) *Tracker {
	return &Tracker{
		dbManager: dbManager,
		logger:    logger,
		resolver:  resolver,
	}
}

func (t *Tracker) db() *gorm.DB {
	if t.dbManager == nil {
		return nil
	}
	return t.dbManager.GetConnection()
}

func (t *Tracker) skip() Result {
	return Result{Recorded: false}
}

func (t *Tracker) fail(what string, err error) Result {
	t.logger.Error("Failed to track "+what, slog.Any("error", err))
	return Result{Recorded: false, Err: fmt.Errorf("failed to track %s: %w", what, err)}
}

// newEvent stamps the common envelope every event carries.
func newEvent(eventType EventType, id identity.Context, device devices.DeviceInfo) *Event {
	now := time.Now().UTC()
	return &Event{
		Type:      eventType,
		SessionID: id.SessionID,
		VisitorID: id.VisitorID,
		Device:    device,
		Timestamp: now,
		Date:      DayString(now),
	}
}

func (t *Tracker) appendEvent(event *Event) error {
	return sqlite.PerformWrite(t.logger, t.db(), func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
}

func (t *Tracker) bumpDaily(date string, field DailyField) error {
	return sqlite.PerformWrite(t.logger, t.db(), func(tx *gorm.DB) error {
		return UpdateDailyStats(tx, date, field)
	})
}

func (t *Tracker) bumpJob(jobID string, field JobField) error {
	return sqlite.PerformWrite(t.logger, t.db(), func(tx *gorm.DB) error {
		return UpdateJobStats(tx, jobID, field)
	})
}

// marshalMeta serializes free-form payload data; nil maps become "".
func marshalMeta(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(raw)
}

// TrackPageView appends a page_view event and bumps the day's pageViews
// counter. The append and the counter bump are two independent writes; a
// counter miss leaves the event in place and is reported via Result.Err.
func (t *Tracker) TrackPageView(id identity.Context, device devices.DeviceInfo, pageName string, pageData map[string]any) Result {
	if t.db() == nil {
		return t.skip()
	}

	event := newEvent(EventTypePageView, id, device)
	event.PageName = pageName
	event.PageData = marshalMeta(pageData)

	if err := t.appendEvent(event); err != nil {
		return t.fail("page view", err)
	}

	result := Result{Recorded: true}
	if err := t.bumpDaily(event.Date, FieldPageViews); err != nil {
		t.logger.Error("Failed to update daily stats for page view", slog.Any("error", err))
		result.Err = err
	}

	t.logger.Debug("Page view tracked", slog.String("page", pageName))
	return result
}

// TrackJobView appends a job_view event and bumps both the site-wide
// jobViews counter and the job's own views counter.
func (t *Tracker) TrackJobView(id identity.Context, device devices.DeviceInfo, job Job) Result {
	if t.db() == nil || job.ID == "" {
		return t.skip()
	}

	event := newEvent(EventTypeJobView, id, device)
	event.JobID = job.ID
	event.JobTitle = job.Title
	event.JobCompany = job.Company

	if err := t.appendEvent(event); err != nil {
		return t.fail("job view", err)
	}

	result := Result{Recorded: true}
	if err := t.bumpDaily(event.Date, FieldJobViews); err != nil {
		t.logger.Error("Failed to update daily stats for job view", slog.Any("error", err))
		result.Err = err
	}
	if err := t.bumpJob(job.ID, JobFieldViews); err != nil {
		t.logger.Error("Failed to update job stats for job view",
			slog.String("job_id", job.ID), slog.Any("error", err))
		if result.Err == nil {
			result.Err = err
		}
	}

	t.logger.Debug("Job view tracked", slog.String("job", job.Title))
	return result
}

// TrackWhatsAppClick appends a whatsapp_click event. job may be nil for the
// general-inquiry button; the per-job counter is only bumped when a job id
// is present.
func (t *Tracker) TrackWhatsAppClick(id identity.Context, device devices.DeviceInfo, job *Job, source string) Result {
	if t.db() == nil {
		return t.skip()
	}
	if source == "" {
		source = "job_card"
	}

	event := newEvent(EventTypeWhatsAppClick, id, device)
	event.Source = source
	if job != nil && job.ID != "" {
		event.JobID = job.ID
		event.JobTitle = job.Title
		event.JobCompany = job.Company
	} else {
		event.JobID = "general"
		event.JobTitle = "General Inquiry"
	}

	if err := t.appendEvent(event); err != nil {
		return t.fail("whatsapp click", err)
	}

	result := Result{Recorded: true}
	if err := t.bumpDaily(event.Date, FieldWhatsappClicks); err != nil {
		t.logger.Error("Failed to update daily stats for whatsapp click", slog.Any("error", err))
		result.Err = err
	}
	if job != nil && job.ID != "" {
		if err := t.bumpJob(job.ID, JobFieldWhatsappClicks); err != nil {
			t.logger.Error("Failed to update job stats for whatsapp click",
				slog.String("job_id", job.ID), slog.Any("error", err))
			if result.Err == nil {
				result.Err = err
			}
		}
	}

	t.logger.Debug("WhatsApp click tracked", slog.String("source", source))
	return result
}

// TrackAgentInteraction appends an agent_interaction event. Only the
// started and message kinds touch daily counters.
func (t *Tracker) TrackAgentInteraction(id identity.Context, device devices.DeviceInfo, kind InteractionType, data map[string]any) Result {
	if t.db() == nil {
		return t.skip()
	}
	if !ValidInteractionType(kind) {
		return t.fail("agent interaction", fmt.Errorf("unknown interaction type: %s", kind))
	}

	event := newEvent(EventTypeAgentInteraction, id, device)
	event.InteractionType = kind
	event.InteractionData = marshalMeta(data)

	if err := t.appendEvent(event); err != nil {
		return t.fail("agent interaction", err)
	}

	result := Result{Recorded: true}
	var counterErr error
	switch kind {
	case InteractionStarted:
		counterErr = t.bumpDaily(event.Date, FieldAgentSessions)
	case InteractionMessage:
		counterErr = t.bumpDaily(event.Date, FieldAgentMessages)
	}
	if counterErr != nil {
		t.logger.Error("Failed to update daily stats for agent interaction",
			slog.String("kind", string(kind)), slog.Any("error", counterErr))
		result.Err = counterErr
	}

	t.logger.Debug("Agent interaction tracked", slog.String("kind", string(kind)))
	return result
}

// TrackSessionStart writes the session record, enriched with a best-effort
// geolocation lookup for clientIP, then bumps the sessions counter and,
// for a first-ever visitor, the newVisitors counter. A failed lookup never
// fails the session write; the record simply carries no location.
func (t *Tracker) TrackSessionStart(id identity.Context, device devices.DeviceInfo, clientIP string) Result {
	if t.db() == nil {
		return t.skip()
	}

	var locationJSON string
	if t.resolver != nil {
		if loc := t.resolver.Lookup(id.SessionID, clientIP); loc != nil {
			if raw, err := json.Marshal(loc); err == nil {
				locationJSON = string(raw)
			}
		}
	}

	now := time.Now().UTC()
	session := &Session{
		SessionID:    id.SessionID,
		VisitorID:    id.VisitorID,
		StartTime:    now,
		EndTime:      nil,
		Device:       device,
		LocationJSON: locationJSON,
		Date:         DayString(now),
	}

	err := sqlite.PerformWrite(t.logger, t.db(), func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
	if err != nil {
		return t.fail("session start", err)
	}

	result := Result{Recorded: true}
	if err := t.bumpDaily(session.Date, FieldSessions); err != nil {
		t.logger.Error("Failed to update daily stats for session", slog.Any("error", err))
		result.Err = err
	}

	if t.isNewVisitor(id.VisitorID) {
		if err := t.bumpDaily(session.Date, FieldNewVisitors); err != nil {
			t.logger.Error("Failed to update daily stats for new visitor", slog.Any("error", err))
			if result.Err == nil {
				result.Err = err
			}
		}
	}

	t.logger.Debug("Session started",
		slog.String("session_id", id.SessionID),
		slog.Bool("has_location", locationJSON != ""))
	return result
}

// isNewVisitor looks for up to two session rows for the visitor; finding at
// most one (the row just written) means this is a first-ever session. A
// visitor whose only prior session failed to persist is counted as new
// again - a known limit of the heuristic, kept deliberately.
func (t *Tracker) isNewVisitor(visitorID string) bool {
	var ids []string
	err := t.db().Model(&Session{}).
		Where("visitor_id = ?", visitorID).
		Limit(2).
		Pluck("session_id", &ids).Error
	if err != nil {
		t.logger.Warn("Failed to check visitor history, assuming new",
			slog.String("visitor_id", visitorID), slog.Any("error", err))
		return true
	}
	return len(ids) <= 1
}

// TrackSessionEnd patches the session row with its end time and duration in
// whole seconds, measured against the stored start time. A missing row is
// a reportable error, not a crash; a tab closed without cleanup simply
// leaves its session open forever.
func (t *Tracker) TrackSessionEnd(id identity.Context) Result {
	if t.db() == nil {
		return t.skip()
	}

	var session Session
	if err := t.db().Where("session_id = ?", id.SessionID).First(&session).Error; err != nil {
		return t.fail("session end", fmt.Errorf("session %s not found: %w", id.SessionID, err))
	}

	now := time.Now().UTC()
	duration := int(now.Sub(session.StartTime).Seconds())
	if duration < 0 {
		duration = 0
	}

	err := sqlite.PerformWrite(t.logger, t.db(), func(tx *gorm.DB) error {
		return tx.Model(&Session{}).
			Where("session_id = ?", id.SessionID).
			Updates(map[string]any{
				"end_time": now,
				"duration": duration,
			}).Error
	})
	if err != nil {
		return t.fail("session end", err)
	}

	if t.resolver != nil {
		t.resolver.Forget(id.SessionID)
	}

	t.logger.Debug("Session ended",
		slog.String("session_id", id.SessionID),
		slog.Int("duration_seconds", duration))
	return Result{Recorded: true}
}
