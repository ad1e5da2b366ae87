// Package identity owns visitor and session identifiers.
//
// A visitor id names one browser across visits and lives in the client's
// durable storage (a long-lived cookie in production, a map in tests). A
// session id names one continuous visit and is minted fresh on every
// application load, never persisted.
package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// VisitorKey is the durable-storage key under which the visitor id lives.
const VisitorKey = "gcg_visitor_id"

// Storage abstracts the client's durable key/value store. The HTTP layer
// backs it with cookies; tests use MapStorage.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Context carries the identity of one client for the lifetime of a session.
// It is built once per request chain and passed into the analytics facade.
type Context struct {
	VisitorID string
	SessionID string
}

// NewContext resolves the visitor id from storage (creating and persisting
// one if absent) and mints a fresh session id.
func NewContext(store Storage) Context {
	return Context{
		VisitorID: GetOrCreateVisitorID(store),
		SessionID: GenerateSessionID(),
	}
}

// GetOrCreateVisitorID returns the stored visitor id, synthesizing and
// persisting a new one when the store has none. The id is written before it
// is returned so two sequential loads observe the same value.
func GetOrCreateVisitorID(store Storage) string {
	if id, ok := store.Get(VisitorKey); ok && id != "" {
		return id
	}
	id := newID("visitor")
	store.Set(VisitorKey, id)
	return id
}

// GenerateSessionID synthesizes a new session id. Uniqueness is
// probabilistic only; a collision merely blurs grouping in reports.
func GenerateSessionID() string {
	return newID("session")
}

const idSuffixLen = 9

// newID builds "<prefix>_<unix ms>_<random base36 suffix>".
func newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), randomSuffix(idSuffixLen))
}

func randomSuffix(length int) string {
	const charset = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is not worth surfacing for an
			// opaque grouping id; fall back to a time-derived byte.
			b[i] = charset[int(time.Now().UnixNano())%len(charset)]
			continue
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}

// MapStorage is an in-memory Storage for tests and tooling.
type MapStorage map[string]string

func (m MapStorage) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MapStorage) Set(key, value string) {
	m[key] = value
}
