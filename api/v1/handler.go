package v1

import (
	"encoding/json"
	"net/http"
	"strings"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"gcgateway/internal/analytics"
	"gcgateway/internal/devices"
	"gcgateway/internal/geo"
	"gcgateway/internal/settings"
)

const (
	msgEventAccepted  = "Event accepted"
	errInvalidRequest = "Invalid request"
)

// API holds the dependencies the tracking handlers need beyond what the
// request context carries. Built once at route mount; a nil resolver
// disables geolocation without touching the handlers.
type API struct {
	resolver *geo.Resolver
}

// NewAPI wires the tracking handlers to their geolocation resolver.
func NewAPI(resolver *geo.Resolver) *API {
	return &API{resolver: resolver}
}

func (a *API) tracker(ctx *cartridge.Context) *analytics.Tracker {
	return analytics.NewTracker(ctx.DBManager, ctx.Logger, a.resolver)
}

type jobParams struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Company string `json:"company"`
}

func (p *jobParams) toJob() analytics.Job {
	return analytics.Job{ID: p.ID, Title: p.Title, Company: p.Company}
}

type deviceParams struct {
	Language     string `json:"language"`
	Platform     string `json:"platform"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
}

// TrackEventParams is the public tracking payload. Type selects which of
// the optional blocks is read; unknown extras are ignored.
type TrackEventParams struct {
	Type            analytics.EventType       `json:"type"`
	PageName        string                    `json:"pageName"`
	PageData        map[string]any            `json:"pageData"`
	Job             *jobParams                `json:"job"`
	Source          string                    `json:"source"`
	InteractionType analytics.InteractionType `json:"interactionType"`
	InteractionData map[string]any            `json:"interactionData"`
	Device          deviceParams              `json:"device"`
}

func requestUserAgent(ctx *cartridge.Context) string {
	userAgent := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}
	return userAgent
}

func deviceFromRequest(ctx *cartridge.Context, params deviceParams) devices.DeviceInfo {
	return devices.Describe(
		requestUserAgent(ctx),
		params.Language,
		params.Platform,
		params.ScreenWidth,
		params.ScreenHeight,
	)
}

// ipExcluded reports whether the request comes from an operator-excluded
// address. Such traffic is acknowledged but never recorded.
func ipExcluded(ctx *cartridge.Context, clientIP string) bool {
	excluded, err := settings.IsIPExcluded(clientIP)
	if err != nil {
		ctx.Logger.Warn("Excluded IP check failed", slog.Any("error", err))
		return false
	}
	return excluded
}

// TrackEvent ingests one tracking event. It always answers quickly:
// the caller is a storefront page that must never wait on analytics.
func (a *API) TrackEvent(ctx *cartridge.Context) error {
	var params TrackEventParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		ctx.Logger.Debug("Failed to parse event request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	if !analytics.ValidEventType(params.Type) {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown event type",
			"code":  "UNKNOWN_EVENT_TYPE",
		})
	}

	if ipExcluded(ctx, getClientIP(ctx.Ctx)) {
		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"message": msgEventAccepted})
	}

	id := requestIdentity(ctx)
	device := deviceFromRequest(ctx, params.Device)
	tracker := a.tracker(ctx)

	var result analytics.Result
	switch params.Type {
	case analytics.EventTypePageView:
		result = tracker.TrackPageView(id, device, params.PageName, params.PageData)
	case analytics.EventTypeJobView:
		if params.Job == nil || params.Job.ID == "" {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Job view requires a job",
				"code":  "MISSING_JOB",
			})
		}
		result = tracker.TrackJobView(id, device, params.Job.toJob())
	case analytics.EventTypeWhatsAppClick:
		var job *analytics.Job
		if params.Job != nil && params.Job.ID != "" {
			j := params.Job.toJob()
			job = &j
		}
		result = tracker.TrackWhatsAppClick(id, device, job, params.Source)
	case analytics.EventTypeAgentInteraction:
		if !analytics.ValidInteractionType(params.InteractionType) {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown interaction type",
				"code":  "UNKNOWN_INTERACTION_TYPE",
			})
		}
		result = tracker.TrackAgentInteraction(id, device, params.InteractionType, params.InteractionData)
	}

	if result.Err != nil && !result.Recorded {
		if isBusyError(result.Err) {
			return ctx.Status(599).JSON(fiber.Map{})
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record event",
			"code":  "RECORDING_ERROR",
		})
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAccepted,
		"status":  http.StatusAccepted,
	})
}

// TrackEventBeacon handles events sent via navigator.sendBeacon.
// Beacons fire during page teardown so the response code is always 202;
// there is nobody left to read an error.
func (a *API) TrackEventBeacon(ctx *cartridge.Context) error {
	var params TrackEventParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	if !analytics.ValidEventType(params.Type) {
		return ctx.SendStatus(http.StatusAccepted)
	}

	if ipExcluded(ctx, getClientIP(ctx.Ctx)) {
		return ctx.SendStatus(http.StatusAccepted)
	}

	id := requestIdentity(ctx)
	device := deviceFromRequest(ctx, params.Device)
	tracker := a.tracker(ctx)

	switch params.Type {
	case analytics.EventTypePageView:
		tracker.TrackPageView(id, device, params.PageName, params.PageData)
	case analytics.EventTypeJobView:
		if params.Job != nil && params.Job.ID != "" {
			tracker.TrackJobView(id, device, params.Job.toJob())
		}
	case analytics.EventTypeWhatsAppClick:
		var job *analytics.Job
		if params.Job != nil && params.Job.ID != "" {
			j := params.Job.toJob()
			job = &j
		}
		tracker.TrackWhatsAppClick(id, device, job, params.Source)
	case analytics.EventTypeAgentInteraction:
		if analytics.ValidInteractionType(params.InteractionType) {
			tracker.TrackAgentInteraction(id, device, params.InteractionType, params.InteractionData)
		}
	}

	return ctx.SendStatus(http.StatusAccepted)
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
