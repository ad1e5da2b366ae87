package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "gcgateway/api/v1"
	"gcgateway/internal/config"
	"gcgateway/internal/geo"
	"gcgateway/internal/http"
	"gcgateway/internal/http/middleware"
)

// publicCORSConfig is shared by every public tracking endpoint. The job
// board pages embedding the snippet may live on any origin.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route
// API. resolver may be nil; session starts then record no location.
func MountAppRoutes(srv *cartridge.Server, resolver *geo.Resolver) {
	cfg := config.GetConfig()
	api := v1.NewAPI(resolver)

	// Rate limiting only bites in production; in development and tests it
	// would get in the way.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 req/min per IP absorbs a busy browsing session while capping abuse
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Sec-Fetch-Site validation happens in the global middleware, which the
	// server config opens up to cross-site browser requests. CORS runs
	// first so rejected requests still carry CORS headers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	sdkConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.AdminAPIKeyAuth(db, logger),
		},
	}

	// === ROOT ROUTES ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC TRACKING API ===
	srv.Post("/x/api/v1/events", api.TrackEvent, publicAPIConfig)
	srv.Options("/x/api/v1/events", noContentAction, publicAPIConfig)
	srv.Post("/x/api/v1/events/beacon", api.TrackEventBeacon, publicAPIConfig)
	srv.Options("/x/api/v1/events/beacon", noContentAction, publicAPIConfig)

	srv.Post("/x/api/v1/sessions", api.StartSession, publicAPIConfig)
	srv.Options("/x/api/v1/sessions", noContentAction, publicAPIConfig)
	srv.Post("/x/api/v1/sessions/end", api.EndSession, publicAPIConfig)
	srv.Options("/x/api/v1/sessions/end", noContentAction, publicAPIConfig)
	srv.Post("/x/api/v1/sessions/end/beacon", api.EndSessionBeacon, publicAPIConfig)
	srv.Options("/x/api/v1/sessions/end/beacon", noContentAction, publicAPIConfig)

	// === SDK DELIVERY ===
	srv.Get("/y/api/v1/gcg.js", v1.GetSDKAction, sdkConfig)

	// === ADMIN REPORTING API ===
	srv.Get("/admin/api/stats/summary", http.StatsSummaryAction, adminAPIConfig)
	srv.Get("/admin/api/stats/daily", http.DailyStatsAction, adminAPIConfig)
	srv.Get("/admin/api/stats/countries", http.SessionCountriesAction, adminAPIConfig)
	srv.Get("/admin/api/events", http.EventsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/jobs", http.JobStatsAction, adminAPIConfig)
	srv.Get("/admin/api/sessions", http.SessionsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/agent/conversations", http.AgentConversationsAction, adminAPIConfig)
}

func noContentAction(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}
