package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcgateway/internal/identity"
)

func TestGetOrCreateVisitorID(t *testing.T) {
	t.Run("creates and persists on first call", func(t *testing.T) {
		store := identity.MapStorage{}

		id := identity.GetOrCreateVisitorID(store)
		require.NotEmpty(t, id)
		assert.True(t, strings.HasPrefix(id, "visitor_"))

		stored, ok := store.Get(identity.VisitorKey)
		require.True(t, ok, "visitor id must be persisted before returning")
		assert.Equal(t, id, stored)
	})

	t.Run("stable across loads sharing the same storage", func(t *testing.T) {
		store := identity.MapStorage{}

		first := identity.GetOrCreateVisitorID(store)
		second := identity.GetOrCreateVisitorID(store)

		assert.Equal(t, first, second)
	})

	t.Run("independent storages yield independent visitors", func(t *testing.T) {
		a := identity.GetOrCreateVisitorID(identity.MapStorage{})
		b := identity.GetOrCreateVisitorID(identity.MapStorage{})

		assert.NotEqual(t, a, b)
	})
}

func TestGenerateSessionID(t *testing.T) {
	first := identity.GenerateSessionID()
	second := identity.GenerateSessionID()

	assert.True(t, strings.HasPrefix(first, "session_"))
	assert.NotEqual(t, first, second, "every load gets a fresh session id")
}

func TestNewContext(t *testing.T) {
	store := identity.MapStorage{}

	one := identity.NewContext(store)
	two := identity.NewContext(store)

	assert.Equal(t, one.VisitorID, two.VisitorID, "visitor id survives reloads")
	assert.NotEqual(t, one.SessionID, two.SessionID, "session id does not")
}
