package analytics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcgateway/internal/analytics"
	"gcgateway/internal/testsupport"
)

func TestTrackPageView(t *testing.T) {
	t.Run("records event and bumps daily counter", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()

		result := tracker.TrackPageView(id, testsupport.TestDevice(), "home", map[string]any{"ref": "newsletter"})
		require.True(t, result.Ok())

		events := tracker.GetRecentEvents(analytics.EventTypePageView, 10)
		require.Len(t, events, 1)
		assert.Equal(t, "home", events[0].PageName)
		assert.Equal(t, id.SessionID, events[0].SessionID)
		assert.Equal(t, id.VisitorID, events[0].VisitorID)
		assert.Contains(t, events[0].PageData, "newsletter")

		var stat analytics.DailyStat
		require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&stat).Error)
		assert.Equal(t, 1, stat.PageViews)
	})

	t.Run("concurrent views all land in the counter", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := testsupport.NewTestIdentity()
				result := tracker.TrackPageView(id, testsupport.TestDevice(), "jobs", nil)
				assert.True(t, result.Ok())
			}()
		}
		wg.Wait()

		var stat analytics.DailyStat
		require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&stat).Error)
		assert.Equal(t, n, stat.PageViews)

		var count int64
		require.NoError(t, dbManager.GetConnection().Model(&analytics.Event{}).Count(&count).Error)
		assert.Equal(t, int64(n), count)
	})
}

func TestTrackJobView(t *testing.T) {
	tracker, dbManager := testsupport.SetupTracker(t)
	id := testsupport.NewTestIdentity()
	job := analytics.Job{ID: "job-42", Title: "Site Engineer", Company: "Gulf Construction Co"}

	result := tracker.TrackJobView(id, testsupport.TestDevice(), job)
	require.True(t, result.Ok())

	events := tracker.GetRecentEvents(analytics.EventTypeJobView, 10)
	require.Len(t, events, 1)
	assert.Equal(t, "job-42", events[0].JobID)
	assert.Equal(t, "Site Engineer", events[0].JobTitle)

	var jobStat analytics.JobStat
	require.NoError(t, dbManager.GetConnection().Where("job_id = ?", "job-42").First(&jobStat).Error)
	assert.Equal(t, 1, jobStat.Views)
	assert.Equal(t, 0, jobStat.WhatsappClicks)

	var daily analytics.DailyStat
	require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&daily).Error)
	assert.Equal(t, 1, daily.JobViews)
}

func TestTrackWhatsAppClick(t *testing.T) {
	t.Run("with job bumps per-job counter", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()
		job := analytics.Job{ID: "job-42", Title: "Site Engineer", Company: "Gulf Construction Co"}

		require.True(t, tracker.TrackJobView(id, testsupport.TestDevice(), job).Ok())
		require.True(t, tracker.TrackWhatsAppClick(id, testsupport.TestDevice(), &job, "job_detail").Ok())

		var jobStat analytics.JobStat
		require.NoError(t, dbManager.GetConnection().Where("job_id = ?", "job-42").First(&jobStat).Error)
		assert.Equal(t, 1, jobStat.Views)
		assert.Equal(t, 1, jobStat.WhatsappClicks)

		events := tracker.GetRecentEvents("", 10)
		require.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, "job-42", e.JobID)
		}
	})

	t.Run("without job falls back to general inquiry", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()

		result := tracker.TrackWhatsAppClick(id, testsupport.TestDevice(), nil, "floating_button")
		require.True(t, result.Ok())

		events := tracker.GetRecentEvents(analytics.EventTypeWhatsAppClick, 10)
		require.Len(t, events, 1)
		assert.Equal(t, "general", events[0].JobID)
		assert.Equal(t, "General Inquiry", events[0].JobTitle)
		assert.Equal(t, "floating_button", events[0].Source)

		var daily analytics.DailyStat
		require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&daily).Error)
		assert.Equal(t, 1, daily.WhatsappClicks)

		var jobStatCount int64
		require.NoError(t, dbManager.GetConnection().Model(&analytics.JobStat{}).Count(&jobStatCount).Error)
		assert.Zero(t, jobStatCount, "General inquiries must not create job rows")
	})
}

func TestTrackAgentInteraction(t *testing.T) {
	tracker, dbManager := testsupport.SetupTracker(t)
	id := testsupport.NewTestIdentity()
	device := testsupport.TestDevice()

	require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionStarted, nil).Ok())
	require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionMessage, map[string]any{"role": "user"}).Ok())
	require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionMessage, map[string]any{"role": "assistant"}).Ok())
	require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionLanguageChange, map[string]any{"language": "ar"}).Ok())
	require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionEnded, nil).Ok())

	var daily analytics.DailyStat
	require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&daily).Error)
	assert.Equal(t, 1, daily.AgentSessions, "Only started bumps agent sessions")
	assert.Equal(t, 2, daily.AgentMessages, "Only message bumps agent messages")

	events := tracker.GetRecentEvents(analytics.EventTypeAgentInteraction, 10)
	assert.Len(t, events, 5, "Every interaction kind is recorded as an event")

	result := tracker.TrackAgentInteraction(id, device, "typo", nil)
	assert.False(t, result.Recorded)
	assert.Error(t, result.Err)
}

func TestTrackSessionLifecycle(t *testing.T) {
	t.Run("start writes session and bumps counters", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()

		result := tracker.TrackSessionStart(id, testsupport.TestDevice(), "203.0.113.9")
		require.True(t, result.Ok())

		var session analytics.Session
		require.NoError(t, dbManager.GetConnection().Where("session_id = ?", id.SessionID).First(&session).Error)
		assert.Equal(t, id.VisitorID, session.VisitorID)
		assert.Nil(t, session.EndTime)
		assert.Nil(t, session.Location(), "No resolver means no location, not a failure")

		var daily analytics.DailyStat
		require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&daily).Error)
		assert.Equal(t, 1, daily.Sessions)
		assert.Equal(t, 1, daily.NewVisitors)
	})

	t.Run("returning visitor does not bump new visitors", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		first := testsupport.NewTestIdentity()

		require.True(t, tracker.TrackSessionStart(first, testsupport.TestDevice(), "203.0.113.9").Ok())

		second := first
		second.SessionID = testsupport.NewTestIdentity().SessionID
		require.True(t, tracker.TrackSessionStart(second, testsupport.TestDevice(), "203.0.113.9").Ok())

		var daily analytics.DailyStat
		require.NoError(t, dbManager.GetConnection().Where("date = ?", analytics.TodayString()).First(&daily).Error)
		assert.Equal(t, 2, daily.Sessions)
		assert.Equal(t, 1, daily.NewVisitors, "Second session of the same visitor is not new")
	})

	t.Run("end patches duration from stored start time", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()

		testsupport.CreateTestSession(t, dbManager.GetConnection(), id, time.Now().UTC().Add(-90*time.Second))

		result := tracker.TrackSessionEnd(id)
		require.True(t, result.Ok())

		var session analytics.Session
		require.NoError(t, dbManager.GetConnection().Where("session_id = ?", id.SessionID).First(&session).Error)
		require.NotNil(t, session.EndTime)
		assert.GreaterOrEqual(t, session.Duration, 90)
		assert.Less(t, session.Duration, 95)
	})

	t.Run("end of unknown session reports error without panic", func(t *testing.T) {
		tracker, _ := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()

		result := tracker.TrackSessionEnd(id)
		assert.False(t, result.Recorded)
		assert.Error(t, result.Err)
	})
}

func TestQueries(t *testing.T) {
	t.Run("summary on empty store", func(t *testing.T) {
		tracker, _ := testsupport.SetupTracker(t)

		summary := tracker.GetSummaryStats()
		assert.Nil(t, summary.Today)
		assert.Zero(t, summary.Last7Days.TotalViews)
		assert.Zero(t, summary.Last7Days.TotalSessions)
		assert.Empty(t, summary.DailyBreakdown)
	})

	t.Run("summary sums the weekly window", func(t *testing.T) {
		tracker, _ := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()
		device := testsupport.TestDevice()

		require.True(t, tracker.TrackSessionStart(id, device, "203.0.113.9").Ok())
		require.True(t, tracker.TrackPageView(id, device, "home", nil).Ok())
		require.True(t, tracker.TrackPageView(id, device, "jobs", nil).Ok())
		require.True(t, tracker.TrackWhatsAppClick(id, device, nil, "").Ok())
		require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionStarted, nil).Ok())

		summary := tracker.GetSummaryStats()
		require.NotNil(t, summary.Today)
		assert.Equal(t, 2, summary.Today.PageViews)
		assert.Equal(t, 2, summary.Last7Days.TotalViews)
		assert.Equal(t, 1, summary.Last7Days.TotalSessions)
		assert.Equal(t, 1, summary.Last7Days.TotalWhatsApp)
		assert.Equal(t, 1, summary.Last7Days.TotalAgentSessions)
		require.Len(t, summary.DailyBreakdown, 1)
		assert.Equal(t, analytics.TodayString(), summary.DailyBreakdown[0].Date)
	})

	t.Run("recent events respects type filter and limit", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()

		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 5; i++ {
			testsupport.CreateTestEvent(t, dbManager.GetConnection(), id, analytics.EventTypePageView, base.Add(time.Duration(i)*time.Minute))
		}
		testsupport.CreateTestEvent(t, dbManager.GetConnection(), id, analytics.EventTypeJobView, base.Add(time.Hour))

		all := tracker.GetRecentEvents("", 3)
		require.Len(t, all, 3)
		assert.Equal(t, analytics.EventTypeJobView, all[0].Type, "Newest event comes first")

		views := tracker.GetRecentEvents(analytics.EventTypePageView, 10)
		assert.Len(t, views, 5)
	})

	t.Run("recent sessions newest first", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)

		old := testsupport.NewTestIdentity()
		recent := testsupport.NewTestIdentity()
		testsupport.CreateTestSession(t, dbManager.GetConnection(), old, time.Now().UTC().Add(-2*time.Hour))
		testsupport.CreateTestSession(t, dbManager.GetConnection(), recent, time.Now().UTC().Add(-time.Minute))

		sessions := tracker.GetRecentSessions(10)
		require.Len(t, sessions, 2)
		assert.Equal(t, recent.SessionID, sessions[0].SessionID)
	})

	t.Run("agent conversations group a session's events", func(t *testing.T) {
		tracker, _ := testsupport.SetupTracker(t)
		id := testsupport.NewTestIdentity()
		device := testsupport.TestDevice()

		require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionStarted, nil).Ok())
		require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionMessage, map[string]any{"role": "user"}).Ok())
		require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionMessage, map[string]any{"role": "assistant"}).Ok())
		require.True(t, tracker.TrackAgentInteraction(id, device, analytics.InteractionEnded, nil).Ok())

		conversations := tracker.GetAgentConversations(10)
		require.Len(t, conversations, 1)
		assert.Equal(t, id.SessionID, conversations[0].SessionID)
		assert.Equal(t, 2, conversations[0].Messages)
		assert.Len(t, conversations[0].Events, 4)

		// A second visitor's conversation stays separate.
		other := testsupport.NewTestIdentity()
		require.True(t, tracker.TrackAgentInteraction(other, device, analytics.InteractionStarted, nil).Ok())
		require.True(t, tracker.TrackAgentInteraction(other, device, analytics.InteractionMessage, nil).Ok())

		conversations = tracker.GetAgentConversations(10)
		require.Len(t, conversations, 2)
		for _, conv := range conversations {
			if conv.SessionID == other.SessionID {
				assert.Equal(t, 1, conv.Messages)
				assert.Len(t, conv.Events, 2)
			} else {
				assert.Equal(t, id.SessionID, conv.SessionID)
				assert.Len(t, conv.Events, 4)
			}
		}
	})

	t.Run("daily stats carry the last recorded days after a quiet stretch", func(t *testing.T) {
		tracker, dbManager := testsupport.SetupTracker(t)
		db := dbManager.GetConnection()

		// Rows well outside any calendar window; a dashboard opened after a
		// quiet month still shows the last recorded days.
		older := analytics.DayString(time.Now().UTC().AddDate(0, 0, -41))
		old := analytics.DayString(time.Now().UTC().AddDate(0, 0, -40))
		require.NoError(t, db.Create(&analytics.DailyStat{Date: older, PageViews: 3}).Error)
		require.NoError(t, db.Create(&analytics.DailyStat{Date: old, PageViews: 7}).Error)

		stats := tracker.GetDailyStats(7)
		require.NotEmpty(t, stats)
		dates := make([]string, 0, len(stats))
		for _, s := range stats {
			dates = append(dates, s.Date)
		}
		assert.Contains(t, dates, old)
		assert.Contains(t, dates, older)

		// The limit bounds rows, newest first, not a calendar cutoff.
		newest := tracker.GetDailyStats(1)
		require.Len(t, newest, 1)
		assert.Equal(t, dates[0], newest[0].Date)
	})

	t.Run("job stats ordered by views", func(t *testing.T) {
		tracker, _ := testsupport.SetupTracker(t)
		device := testsupport.TestDevice()
		quiet := analytics.Job{ID: "job-quiet", Title: "Accountant"}
		busy := analytics.Job{ID: "job-busy", Title: "Welder"}

		require.True(t, tracker.TrackJobView(testsupport.NewTestIdentity(), device, quiet).Ok())
		for i := 0; i < 3; i++ {
			require.True(t, tracker.TrackJobView(testsupport.NewTestIdentity(), device, busy).Ok())
		}

		stats := tracker.GetJobStats()
		require.Len(t, stats, 2)
		assert.Equal(t, "job-busy", stats[0].JobID)
		assert.Equal(t, 3, stats[0].Views)
	})
}

func TestTrackerWithoutStore(t *testing.T) {
	tracker := analytics.NewTracker(nil, testsupport.GetLogger(), nil)
	id := testsupport.NewTestIdentity()
	device := testsupport.TestDevice()

	assert.False(t, tracker.TrackPageView(id, device, "home", nil).Recorded)
	assert.False(t, tracker.TrackSessionStart(id, device, "203.0.113.9").Recorded)
	assert.NoError(t, tracker.TrackSessionEnd(id).Err)
	assert.Empty(t, tracker.GetRecentEvents("", 10))
	assert.Nil(t, tracker.GetSummaryStats().Today)
}
