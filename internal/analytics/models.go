// Package analytics is the single surface through which all tracking writes
// and reporting reads flow. It owns four collections: the append-only event
// log, the session log, and the daily/per-job rolling counters. Events are
// the source of truth; the counters are best-effort caches kept for fast
// reporting and are only eventually consistent with the log.
package analytics

import (
	"encoding/json"
	"time"

	"gcgateway/internal/devices"
	"gcgateway/internal/geo"
)

// EventType identifies the kind of tracked user action.
type EventType string

const (
	EventTypePageView         EventType = "page_view"
	EventTypeJobView          EventType = "job_view"
	EventTypeWhatsAppClick    EventType = "whatsapp_click"
	EventTypeAgentInteraction EventType = "agent_interaction"
)

// InteractionType classifies an AI-agent interaction event.
type InteractionType string

const (
	InteractionStarted        InteractionType = "started"
	InteractionMessage        InteractionType = "message"
	InteractionEnded          InteractionType = "ended"
	InteractionLanguageChange InteractionType = "language_change"
)

// ValidEventType reports whether t names a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventTypePageView, EventTypeJobView, EventTypeWhatsAppClick, EventTypeAgentInteraction:
		return true
	}
	return false
}

// ValidInteractionType reports whether t names a known interaction kind.
func ValidInteractionType(t InteractionType) bool {
	switch t {
	case InteractionStarted, InteractionMessage, InteractionEnded, InteractionLanguageChange:
		return true
	}
	return false
}

// Job is the slice of a job posting the analytics subsystem cares about.
type Job struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Company string `json:"company"`
}

// Event is one immutable record of a tracked user action. Rows are never
// updated or deleted after creation (retention cleanup excepted).
type Event struct {
	ID              uint               `gorm:"primaryKey;autoIncrement" json:"-"`
	Type            EventType          `gorm:"index;size:32;not null" json:"type"`
	SessionID       string             `gorm:"index;size:64;not null" json:"sessionId"`
	VisitorID       string             `gorm:"index;size:64;not null" json:"visitorId"`
	Device          devices.DeviceInfo `gorm:"embedded;embeddedPrefix:device_" json:"deviceInfo"`
	PageName        string             `gorm:"index" json:"pageName,omitempty"`
	PageData        string             `gorm:"type:text" json:"pageData,omitempty"`
	JobID           string             `gorm:"index" json:"jobId,omitempty"`
	JobTitle        string             `json:"jobTitle,omitempty"`
	JobCompany      string             `json:"jobCompany,omitempty"`
	Source          string             `json:"source,omitempty"`
	InteractionType InteractionType    `gorm:"index" json:"interactionType,omitempty"`
	InteractionData string             `gorm:"type:text" json:"interactionData,omitempty"`
	Timestamp       time.Time          `gorm:"index;not null" json:"timestamp"`
	Date            string             `gorm:"index;size:10;not null" json:"date"`
	CreatedAt       time.Time          `json:"-"`
}

// Session is one continuous visit. It is created at session start and
// patched exactly once at session end with EndTime and Duration. A session
// whose end never fires stays open; that is accepted, not repaired.
type Session struct {
	ID           uint               `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string             `gorm:"uniqueIndex;size:64;not null" json:"sessionId"`
	VisitorID    string             `gorm:"index;size:64;not null" json:"visitorId"`
	StartTime    time.Time          `gorm:"index;not null" json:"startTime"`
	EndTime      *time.Time         `json:"endTime"`
	Duration     int                `json:"duration"` // whole seconds, set at session end
	Device       devices.DeviceInfo `gorm:"embedded;embeddedPrefix:device_" json:"deviceInfo"`
	LocationJSON string             `gorm:"column:location_info;type:text" json:"-"`
	Date         string             `gorm:"index;size:10;not null" json:"date"`
	CreatedAt    time.Time          `json:"-"`
	UpdatedAt    time.Time          `json:"-"`
}

// Location decodes the stored location payload, or nil when the
// geolocation lookup failed at session start.
func (s *Session) Location() *geo.Location {
	if s.LocationJSON == "" {
		return nil
	}
	var loc geo.Location
	if err := json.Unmarshal([]byte(s.LocationJSON), &loc); err != nil {
		return nil
	}
	return &loc
}

// DailyStat is the site-wide rolling counter document for one calendar
// day. Every counter is monotonically non-decreasing within its day.
type DailyStat struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Date           string    `gorm:"uniqueIndex;size:10;not null" json:"date"`
	PageViews      int       `gorm:"not null;default:0" json:"pageViews"`
	Sessions       int       `gorm:"not null;default:0" json:"sessions"`
	NewVisitors    int       `gorm:"not null;default:0" json:"newVisitors"`
	JobViews       int       `gorm:"not null;default:0" json:"jobViews"`
	WhatsappClicks int       `gorm:"not null;default:0" json:"whatsappClicks"`
	AgentSessions  int       `gorm:"not null;default:0" json:"agentSessions"`
	AgentMessages  int       `gorm:"not null;default:0" json:"agentMessages"`
	LastUpdated    time.Time `json:"lastUpdated"`
	CreatedAt      time.Time `json:"-"`
}

// JobStat is the rolling counter document for one job posting.
type JobStat struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID          string    `gorm:"uniqueIndex;size:64;not null" json:"jobId"`
	Views          int       `gorm:"not null;default:0" json:"views"`
	WhatsappClicks int       `gorm:"not null;default:0" json:"whatsappClicks"`
	LastUpdated    time.Time `json:"lastUpdated"`
	CreatedAt      time.Time `json:"-"`
}

// DayString formats t as the calendar-day partition key.
func DayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TodayString returns the partition key for the current day.
func TodayString() string {
	return DayString(time.Now())
}
