package v1

import (
	"net/http"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"gcgateway/internal/identity"
)

// sessionStartParams carries the client-reported device block; everything
// else about a session is derived server-side.
type sessionStartParams struct {
	Device deviceParams `json:"device"`
}

// StartSession opens a fresh session for the calling browser. A new
// session id is minted even when one already exists; starting a session is
// an explicit client decision, typically one per visit.
func (a *API) StartSession(ctx *cartridge.Context) error {
	var params sessionStartParams
	// An empty body is fine, the device block is optional
	if len(ctx.Body()) > 0 {
		if err := ctx.Ctx.BodyParser(&params); err != nil {
			ctx.Logger.Debug("Failed to parse session start request", slog.Any("error", err))
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
		}
	}

	clientIP := getClientIP(ctx.Ctx)
	if ipExcluded(ctx, clientIP) {
		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"message": msgEventAccepted})
	}

	store := newCookieStorage(ctx)
	id := identity.Context{
		VisitorID: identity.GetOrCreateVisitorID(store),
		SessionID: identity.GenerateSessionID(),
	}
	store.Set(SessionCookieName, id.SessionID)

	device := deviceFromRequest(ctx, params.Device)
	result := a.tracker(ctx).TrackSessionStart(id, device, clientIP)
	if result.Err != nil && !result.Recorded {
		if isBusyError(result.Err) {
			return ctx.Status(599).JSON(fiber.Map{})
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start session",
			"code":  "SESSION_ERROR",
		})
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"visitorId": id.VisitorID,
		"sessionId": id.SessionID,
		"status":    http.StatusAccepted,
	})
}

// EndSession closes the caller's current session.
func (a *API) EndSession(ctx *cartridge.Context) error {
	store := newCookieStorage(ctx)
	sessionID, ok := store.Get(SessionCookieName)
	if !ok {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "No active session",
			"code":  "NO_SESSION",
		})
	}

	id := identity.Context{
		VisitorID: identity.GetOrCreateVisitorID(store),
		SessionID: sessionID,
	}

	result := a.tracker(ctx).TrackSessionEnd(id)
	if result.Err != nil {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
			"code":  "SESSION_NOT_FOUND",
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"sessionId": sessionID,
		"status":    http.StatusOK,
	})
}

// EndSessionBeacon is the sendBeacon variant of EndSession. It always
// answers 202 because the page firing it is already unloading.
func (a *API) EndSessionBeacon(ctx *cartridge.Context) error {
	store := newCookieStorage(ctx)
	sessionID, ok := store.Get(SessionCookieName)
	if !ok {
		return ctx.SendStatus(http.StatusAccepted)
	}

	id := identity.Context{
		VisitorID: identity.GetOrCreateVisitorID(store),
		SessionID: sessionID,
	}

	if result := a.tracker(ctx).TrackSessionEnd(id); result.Err != nil {
		ctx.Logger.Debug("Beacon session end failed",
			slog.String("session_id", sessionID), slog.Any("error", result.Err))
	}

	return ctx.SendStatus(http.StatusAccepted)
}
