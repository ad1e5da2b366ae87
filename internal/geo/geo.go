// Package geo resolves a client IP to coarse location data. The primary
// source is a remote ipapi-compatible HTTPS service; when that fails or is
// unconfigured, a local GeoLite2 database is consulted. Both sources are
// best-effort: callers receive nil for "location unknown" and must treat
// that as a normal outcome.
package geo

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"gcgateway/internal/config"
)

// Location is the normalized geolocation payload stored on sessions.
type Location struct {
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ISP         string  `json:"isp"`
}

// serviceResponse mirrors the ipapi.co JSON contract.
type serviceResponse struct {
	IP          string  `json:"ip"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Postal      string  `json:"postal"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Org         string  `json:"org"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

// Session cache entries expire after cacheTTL so sessions whose end never
// fires do not pin their entry for the life of the process. The sweep is
// piggybacked on writes at most once per cacheSweepInterval.
const (
	cacheTTL           = 2 * time.Hour
	cacheSweepInterval = 10 * time.Minute
)

type cacheEntry struct {
	loc      *Location // nil for failed lookups
	storedAt time.Time
}

// Resolver performs lookups with a per-session cache: at most one remote
// attempt per session within the cache TTL, whether it succeeds or fails.
type Resolver struct {
	serviceURL string
	client     *http.Client
	logger     *slog.Logger
	geoDB      *geoip2.Reader
	countries  *gountries.Query

	mu        sync.RWMutex
	cache     map[string]cacheEntry // keyed by session id
	lastSweep time.Time
}

// NewResolver builds a Resolver from the application config. geoDB may be
// nil when no local GeoLite2 database is available.
func NewResolver(cfg *config.Config, logger *slog.Logger, geoDB *geoip2.Reader) *Resolver {
	return &Resolver{
		serviceURL: cfg.GeoServiceURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.GeoServiceTimeoutSeconds) * time.Second,
		},
		logger:    logger,
		geoDB:     geoDB,
		countries: gountries.New(),
		cache:     make(map[string]cacheEntry),
		lastSweep: time.Now(),
	}
}

// InitGeoDB opens the GeoLite2 city database configured in cfg. Returns nil
// if the path is unset or the file is missing; GeoIP is optional.
func InitGeoDB(cfg *config.Config, logger *slog.Logger) *geoip2.Reader {
	if cfg.GeoDBPath == "" {
		logger.Debug("GeoIP database path not configured - local fallback disabled")
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found - local fallback disabled",
			slog.String("path", cfg.GeoDBPath),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		logger.Error("Failed to open GeoLite2 database",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return nil
	}

	logger.Info("GeoLite2 database loaded", slog.String("path", cfg.GeoDBPath))
	return db
}

// Lookup resolves ip to a Location, at most once per session. The first
// call for a session hits the remote service (then the local fallback);
// every later call returns the cached outcome, including a cached failure.
// A nil result is not an error; it means "location unknown".
func (r *Resolver) Lookup(sessionID, ip string) *Location {
	now := time.Now()

	r.mu.RLock()
	entry, seen := r.cache[sessionID]
	r.mu.RUnlock()
	if seen && now.Sub(entry.storedAt) < cacheTTL {
		return entry.loc
	}

	loc := r.resolve(ip)

	r.mu.Lock()
	r.cache[sessionID] = cacheEntry{loc: loc, storedAt: now}
	r.sweepLocked(now)
	r.mu.Unlock()
	return loc
}

// Forget drops the cached lookup for a session. Called when a session
// ends; sessions that never end age out via the TTL sweep instead.
func (r *Resolver) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.cache, sessionID)
	r.mu.Unlock()
}

// sweepLocked evicts expired entries. Caller holds the write lock.
func (r *Resolver) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < cacheSweepInterval {
		return
	}
	r.lastSweep = now
	for id, entry := range r.cache {
		if now.Sub(entry.storedAt) >= cacheTTL {
			delete(r.cache, id)
		}
	}
}

func (r *Resolver) resolve(ip string) *Location {
	if loc, err := r.lookupRemote(ip); err == nil {
		return loc
	} else {
		r.logger.Debug("Remote geolocation lookup failed",
			slog.String("ip", ip),
			slog.Any("error", err))
	}

	if loc := r.lookupLocal(ip); loc != nil {
		return loc
	}

	return nil
}

func (r *Resolver) lookupRemote(ip string) (*Location, error) {
	if r.serviceURL == "" {
		return nil, fmt.Errorf("geolocation service not configured")
	}

	url := strings.ReplaceAll(r.serviceURL, "{ip}", ip)
	resp, err := r.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read geolocation response: %w", err)
	}

	var payload serviceResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid geolocation response: %w", err)
	}
	if payload.Error {
		return nil, fmt.Errorf("geolocation service error: %s", payload.Reason)
	}

	return &Location{
		IP:          payload.IP,
		Country:     payload.CountryName,
		CountryCode: payload.CountryCode,
		Region:      payload.Region,
		City:        payload.City,
		Zip:         payload.Postal,
		Latitude:    payload.Latitude,
		Longitude:   payload.Longitude,
		ISP:         payload.Org,
	}, nil
}

func (r *Resolver) lookupLocal(ip string) *Location {
	if r.geoDB == nil {
		return nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		r.logger.Debug("Failed to parse IP for local geolocation", slog.String("ip", ip))
		return nil
	}

	record, err := r.geoDB.City(parsed)
	if err != nil {
		r.logger.Debug("Local geolocation lookup failed",
			slog.String("ip", ip),
			slog.Any("error", err))
		return nil
	}

	code := record.Country.IsoCode
	if code == "" || code == "--" {
		return nil
	}

	loc := &Location{
		IP:          ip,
		CountryCode: code,
		City:        record.City.Names["en"],
		Zip:         record.Postal.Code,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
	}

	if country, err := r.countries.FindCountryByAlpha(code); err == nil {
		loc.Country = country.Name.Common
	} else {
		caser := cases.Upper(language.AmericanEnglish)
		loc.Country = caser.String(code)
	}

	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}

	return loc
}
