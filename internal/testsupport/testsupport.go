package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gcgateway/internal"
	"gcgateway/internal/analytics"
	"gcgateway/internal/config"
	"gcgateway/internal/devices"
	"gcgateway/internal/identity"
	"gcgateway/internal/settings"
)

// testDBCache caches test databases by test name so multiple calls within
// the same test share one database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager behind the gcgateway interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns every gcgateway model for migration
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&analytics.Event{},
		&analytics.Session{},
		&analytics.DailyStat{},
		&analytics.JobStat{},
		&settings.Setting{},
	}
}

// SetupTestDB creates a test database with all gcgateway models migrated.
// Uses a named in-memory database with cache=shared so multiple
// connections share the same database within a test. Caches the database
// by root test name so subtests and setup closures get the same handle.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager and logger pair
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// SetupTracker wires a Tracker against a fresh test database. The tracker
// runs without a geo resolver; tests that care about location build their
// own resolver against a stub service.
func SetupTracker(t *testing.T) (*analytics.Tracker, *TestDBManager) {
	t.Helper()

	dbManager, log := SetupTestDBManager(t)
	return analytics.NewTracker(dbManager, log, nil), dbManager
}

// GetLogger returns a test logger that only surfaces errors
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// NewTestIdentity returns a distinct visitor/session pair
func NewTestIdentity() identity.Context {
	store := identity.MapStorage{}
	return identity.NewContext(store)
}

// TestDevice returns a plausible desktop device payload
func TestDevice() devices.DeviceInfo {
	return devices.DeviceInfo{
		Device:       devices.Desktop,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Test Browser",
		Language:     "en-US",
		Platform:     "Win32",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}
}

// CreateTestSession inserts a session row directly, bypassing the tracker
func CreateTestSession(t *testing.T, db *gorm.DB, id identity.Context, startTime time.Time) *analytics.Session {
	t.Helper()

	session := &analytics.Session{
		SessionID: id.SessionID,
		VisitorID: id.VisitorID,
		StartTime: startTime,
		Device:    TestDevice(),
		Date:      analytics.DayString(startTime),
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

// CreateTestEvent inserts an event row directly, bypassing the tracker
func CreateTestEvent(t *testing.T, db *gorm.DB, id identity.Context, eventType analytics.EventType, timestamp time.Time) *analytics.Event {
	t.Helper()

	event := &analytics.Event{
		Type:      eventType,
		SessionID: id.SessionID,
		VisitorID: id.VisitorID,
		Device:    TestDevice(),
		Timestamp: timestamp,
		Date:      analytics.DayString(timestamp),
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

// CreateMinimalTestApp creates a test Fiber app with all routes mounted
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Keep Sec-Fetch-Site validation on in tests to match production, with
	// the same allowed values the real server config carries.
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv, nil)
	return srv.App()
}
