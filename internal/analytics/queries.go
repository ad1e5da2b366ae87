package analytics

import (
	"time"

	"log/slog"
)

const (
	defaultDailyStatsDays  = 7
	defaultEventsLimit     = 50
	defaultSessionsLimit   = 50
	defaultConversationLim = 20
)

// WindowTotals sums the headline counters over a reporting window.
type WindowTotals struct {
	TotalViews         int `json:"totalViews"`
	TotalSessions      int `json:"totalSessions"`
	TotalWhatsApp      int `json:"totalWhatsApp"`
	TotalAgentSessions int `json:"totalAgentSessions"`
}

// SummaryStats is the dashboard headline payload: today's counters, the
// last seven days summed, and the per-day breakdown behind those sums.
type SummaryStats struct {
	Today          *DailyStat   `json:"today"`
	Last7Days      WindowTotals `json:"last7Days"`
	DailyBreakdown []DailyStat  `json:"dailyBreakdown"`
}

// Conversation groups one assistant session's interaction events in
// chronological order.
type Conversation struct {
	SessionID string  `json:"sessionId"`
	VisitorID string  `json:"visitorId"`
	StartedAt string  `json:"startedAt"`
	Messages  int     `json:"messages"`
	Events    []Event `json:"events"`
}

// GetDailyStats returns up to days of the most recent per-day counter
// rows, newest first. Days without traffic have no row, so after a quiet
// stretch the result still carries the last recorded days rather than an
// empty window. days <= 0 falls back to a week.
func (t *Tracker) GetDailyStats(days int) []DailyStat {
	if t.db() == nil {
		return []DailyStat{}
	}
	if days <= 0 {
		days = defaultDailyStatsDays
	}

	var stats []DailyStat
	err := t.db().
		Order("date DESC").
		Limit(days).
		Find(&stats).Error
	if err != nil {
		t.logger.Error("Failed to get daily stats", slog.Any("error", err))
		return []DailyStat{}
	}
	return stats
}

// GetRecentEvents returns the newest events, optionally filtered to one
// event type. An empty eventType means all types.
func (t *Tracker) GetRecentEvents(eventType EventType, limit int) []Event {
	if t.db() == nil {
		return []Event{}
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}

	query := t.db().Model(&Event{})
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}

	var events []Event
	err := query.Order("timestamp DESC").Limit(limit).Find(&events).Error
	if err != nil {
		t.logger.Error("Failed to get recent events",
			slog.String("type", string(eventType)), slog.Any("error", err))
		return []Event{}
	}
	return events
}

// GetJobStats returns per-job counters ordered by view count, most viewed
// first.
func (t *Tracker) GetJobStats() []JobStat {
	if t.db() == nil {
		return []JobStat{}
	}

	var stats []JobStat
	err := t.db().Order("views DESC").Find(&stats).Error
	if err != nil {
		t.logger.Error("Failed to get job stats", slog.Any("error", err))
		return []JobStat{}
	}
	return stats
}

// GetAgentConversations reconstructs assistant conversations from the raw
// agent_interaction events, newest conversation first. limit bounds the
// number of conversations, not events.
func (t *Tracker) GetAgentConversations(limit int) []Conversation {
	if t.db() == nil {
		return []Conversation{}
	}
	if limit <= 0 {
		limit = defaultConversationLim
	}

	var starts []Event
	err := t.db().
		Where("type = ? AND interaction_type = ?", EventTypeAgentInteraction, InteractionStarted).
		Order("timestamp DESC").
		Limit(limit).
		Find(&starts).Error
	if err != nil {
		t.logger.Error("Failed to get agent conversations", slog.Any("error", err))
		return []Conversation{}
	}

	if len(starts) == 0 {
		return []Conversation{}
	}

	// One query for all selected sessions; grouping happens in memory.
	sessionIDs := make([]string, 0, len(starts))
	for _, start := range starts {
		sessionIDs = append(sessionIDs, start.SessionID)
	}

	var events []Event
	err = t.db().
		Where("type = ? AND session_id IN ?", EventTypeAgentInteraction, sessionIDs).
		Order("timestamp ASC").
		Find(&events).Error
	if err != nil {
		t.logger.Error("Failed to load conversation events", slog.Any("error", err))
		return []Conversation{}
	}

	bySession := make(map[string][]Event, len(starts))
	for _, e := range events {
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}

	conversations := make([]Conversation, 0, len(starts))
	for _, start := range starts {
		sessionEvents := bySession[start.SessionID]

		messages := 0
		for _, e := range sessionEvents {
			if e.InteractionType == InteractionMessage {
				messages++
			}
		}

		conversations = append(conversations, Conversation{
			SessionID: start.SessionID,
			VisitorID: start.VisitorID,
			StartedAt: start.Timestamp.Format(time.RFC3339),
			Messages:  messages,
			Events:    sessionEvents,
		})
	}
	return conversations
}

// GetRecentSessions returns the newest sessions, open ones included.
func (t *Tracker) GetRecentSessions(limit int) []Session {
	if t.db() == nil {
		return []Session{}
	}
	if limit <= 0 {
		limit = defaultSessionsLimit
	}

	var sessions []Session
	err := t.db().Order("start_time DESC").Limit(limit).Find(&sessions).Error
	if err != nil {
		t.logger.Error("Failed to get recent sessions", slog.Any("error", err))
		return []Session{}
	}
	return sessions
}

// GetSummaryStats builds the dashboard headline for the trailing week. On
// a fresh store Today is nil, the totals are zero and the breakdown is
// empty rather than an error.
func (t *Tracker) GetSummaryStats() SummaryStats {
	summary := SummaryStats{DailyBreakdown: []DailyStat{}}
	if t.db() == nil {
		return summary
	}

	today := TodayString()
	var todayStat DailyStat
	if err := t.db().Where("date = ?", today).First(&todayStat).Error; err == nil {
		summary.Today = &todayStat
	}

	summary.DailyBreakdown = t.GetDailyStats(defaultDailyStatsDays)
	for _, day := range summary.DailyBreakdown {
		summary.Last7Days.TotalViews += day.PageViews
		summary.Last7Days.TotalSessions += day.Sessions
		summary.Last7Days.TotalWhatsApp += day.WhatsappClicks
		summary.Last7Days.TotalAgentSessions += day.AgentSessions
	}
	return summary
}
