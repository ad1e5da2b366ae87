package http

import (
	"sort"
	"strconv"

	"github.com/karloscodes/cartridge"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"gcgateway/internal/analytics"
	"gcgateway/internal/geo"
)

func trackerFromContext(ctx *cartridge.Context) *analytics.Tracker {
	return analytics.NewTracker(ctx.DBManager, ctx.Logger, nil)
}

func queryInt(ctx *cartridge.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// StatsSummaryAction returns the dashboard headline payload.
func StatsSummaryAction(ctx *cartridge.Context) error {
	return ctx.JSON(trackerFromContext(ctx).GetSummaryStats())
}

// DailyStatsAction returns per-day counters for the trailing window.
func DailyStatsAction(ctx *cartridge.Context) error {
	days := queryInt(ctx, "days", 7)
	return ctx.JSON(trackerFromContext(ctx).GetDailyStats(days))
}

// EventsIndexAction returns the newest raw events, optionally filtered by
// type via ?type=.
func EventsIndexAction(ctx *cartridge.Context) error {
	eventType := analytics.EventType(ctx.Query("type"))
	if eventType != "" && !analytics.ValidEventType(eventType) {
		return ctx.Status(400).JSON(map[string]string{"error": "Unknown event type"})
	}
	limit := queryInt(ctx, "limit", 50)
	return ctx.JSON(trackerFromContext(ctx).GetRecentEvents(eventType, limit))
}

// JobStatsAction returns per-job view and contact counters.
func JobStatsAction(ctx *cartridge.Context) error {
	return ctx.JSON(trackerFromContext(ctx).GetJobStats())
}

// AgentConversationsAction returns reconstructed assistant conversations.
func AgentConversationsAction(ctx *cartridge.Context) error {
	limit := queryInt(ctx, "limit", 20)
	return ctx.JSON(trackerFromContext(ctx).GetAgentConversations(limit))
}

// sessionResponse decorates a session row with its decoded location.
type sessionResponse struct {
	analytics.Session
	Location *geo.Location `json:"location"`
}

// SessionsIndexAction returns the newest sessions.
func SessionsIndexAction(ctx *cartridge.Context) error {
	limit := queryInt(ctx, "limit", 50)
	sessions := trackerFromContext(ctx).GetRecentSessions(limit)

	result := make([]sessionResponse, len(sessions))
	for i, session := range sessions {
		result[i] = sessionResponse{Session: session, Location: session.Location()}
	}
	return ctx.JSON(result)
}

// CountryCount is one row of the per-country session breakdown.
type CountryCount struct {
	Country string `json:"country"`
	Code    string `json:"code"`
	Count   int    `json:"count"`
}

// SessionCountriesAction aggregates recent sessions by resolved country.
// Session rows store the ISO code; the response carries the common name.
func SessionCountriesAction(ctx *cartridge.Context) error {
	limit := queryInt(ctx, "limit", 500)
	sessions := trackerFromContext(ctx).GetRecentSessions(limit)

	counts := make(map[string]int)
	for _, session := range sessions {
		code := "unknown"
		if loc := session.Location(); loc != nil && loc.CountryCode != "" {
			code = loc.CountryCode
		}
		counts[code]++
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	result := make([]CountryCount, 0, len(counts))
	for code, count := range counts {
		row := CountryCount{Code: code, Count: count}
		if code == "unknown" {
			row.Country = "Unknown"
		} else if country, err := countries.FindCountryByAlpha(code); err == nil {
			row.Country = country.Name.Common
		} else {
			row.Country = caser.String(code)
		}
		result = append(result, row)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Country < result[j].Country
	})

	return ctx.JSON(result)
}
