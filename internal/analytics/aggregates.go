package analytics

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DailyField names a DailyStat counter column.
type DailyField string

const (
	FieldPageViews      DailyField = "page_views"
	FieldSessions       DailyField = "sessions"
	FieldNewVisitors    DailyField = "new_visitors"
	FieldJobViews       DailyField = "job_views"
	FieldWhatsappClicks DailyField = "whatsapp_clicks"
	FieldAgentSessions  DailyField = "agent_sessions"
	FieldAgentMessages  DailyField = "agent_messages"
)

var dailyFields = map[DailyField]bool{
	FieldPageViews:      true,
	FieldSessions:       true,
	FieldNewVisitors:    true,
	FieldJobViews:       true,
	FieldWhatsappClicks: true,
	FieldAgentSessions:  true,
	FieldAgentMessages:  true,
}

// JobField names a JobStat counter column.
type JobField string

const (
	JobFieldViews          JobField = "views"
	JobFieldWhatsappClicks JobField = "whatsapp_clicks"
)

var jobFields = map[JobField]bool{
	JobFieldViews:          true,
	JobFieldWhatsappClicks: true,
}

func seed(field, want string) int {
	if field == want {
		return 1
	}
	return 0
}

// UpdateDailyStats bumps one counter on the given day's DailyStat row,
// creating the row with all other counters at zero when it does not exist
// yet. The increment happens inside the database so concurrent sessions
// never lose updates; the insert-or-increment is a single statement, so
// there is no first-writer race either.
func UpdateDailyStats(tx *gorm.DB, date string, field DailyField) error {
	if !dailyFields[field] {
		return fmt.Errorf("unknown daily stat field: %s", field)
	}

	now := time.Now().UTC()
	f := string(field)
	query := fmt.Sprintf(`
		INSERT INTO daily_stats (date, page_views, sessions, new_visitors, job_views, whatsapp_clicks, agent_sessions, agent_messages, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			%s = daily_stats.%s + 1,
			last_updated = ?
	`, f, f)

	return tx.Exec(query,
		date,
		seed(f, string(FieldPageViews)),
		seed(f, string(FieldSessions)),
		seed(f, string(FieldNewVisitors)),
		seed(f, string(FieldJobViews)),
		seed(f, string(FieldWhatsappClicks)),
		seed(f, string(FieldAgentSessions)),
		seed(f, string(FieldAgentMessages)),
		now, now,
		now,
	).Error
}

// UpdateJobStats bumps one counter on a job's JobStat row, creating it on
// first contact. Same atomic upsert shape as UpdateDailyStats.
func UpdateJobStats(tx *gorm.DB, jobID string, field JobField) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if !jobFields[field] {
		return fmt.Errorf("unknown job stat field: %s", field)
	}

	now := time.Now().UTC()
	f := string(field)
	query := fmt.Sprintf(`
		INSERT INTO job_stats (job_id, views, whatsapp_clicks, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			%s = job_stats.%s + 1,
			last_updated = ?
	`, f, f)

	return tx.Exec(query,
		jobID,
		seed(f, string(JobFieldViews)),
		seed(f, string(JobFieldWhatsappClicks)),
		now, now,
		now,
	).Error
}
