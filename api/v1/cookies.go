package v1

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"gcgateway/internal/config"
	"gcgateway/internal/identity"
)

// SessionCookieName holds the per-tab session id. It deliberately carries
// no Max-Age so it dies with the browser session.
const SessionCookieName = "gcg_session_id"

// cookieStorage adapts fiber cookies to identity.Storage so the identity
// package never touches the transport. The visitor cookie is long-lived;
// everything else is a session cookie.
type cookieStorage struct {
	c   *fiber.Ctx
	cfg *config.Config
}

func newCookieStorage(ctx *cartridge.Context) *cookieStorage {
	return &cookieStorage{c: ctx.Ctx, cfg: config.GetConfig()}
}

func (s *cookieStorage) Get(key string) (string, bool) {
	value := s.c.Cookies(key)
	return value, value != ""
}

func (s *cookieStorage) Set(key, value string) {
	cookie := &fiber.Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if key == identity.VisitorKey {
		maxAge := s.cfg.VisitorCookieMaxAgeDays * 24 * 60 * 60
		cookie.MaxAge = maxAge
		cookie.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	s.c.Cookie(cookie)
}

// requestIdentity resolves the visitor and session pair for a request,
// minting and persisting whichever half is missing.
func requestIdentity(ctx *cartridge.Context) identity.Context {
	store := newCookieStorage(ctx)

	id := identity.Context{
		VisitorID: identity.GetOrCreateVisitorID(store),
	}

	if sessionID, ok := store.Get(SessionCookieName); ok {
		id.SessionID = sessionID
		return id
	}

	id.SessionID = identity.GenerateSessionID()
	store.Set(SessionCookieName, id.SessionID)
	return id
}
