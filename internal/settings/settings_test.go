package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcgateway/internal/settings"
	"gcgateway/internal/testsupport"
)

func TestIsIPExcluded(t *testing.T) {
	t.Run("excludes exact IP match", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		settings.SetupDefaultSettings(db)

		err := settings.UpdateSetting(db, settings.KeyExcludedIPs, "192.168.1.100")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "The exact IP in the exclusion list should be excluded")

		isExcluded, err = settings.IsIPExcluded("192.168.1.101")
		require.NoError(t, err)
		assert.False(t, isExcluded, "A different IP should not be excluded")
	})

	t.Run("handles IPs with whitespace", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		settings.SetupDefaultSettings(db)

		err := settings.UpdateSetting(db, settings.KeyExcludedIPs, " 192.168.1.100 , 10.0.0.1 ")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded)

		isExcluded, err = settings.IsIPExcluded("10.0.0.1")
		require.NoError(t, err)
		assert.True(t, isExcluded)
	})

	t.Run("handles empty exclusion value", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		settings.SetupDefaultSettings(db)

		err := settings.UpdateSetting(db, settings.KeyExcludedIPs, "")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.False(t, isExcluded)
	})

	t.Run("reflects updates to exclusion list", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		settings.SetupDefaultSettings(db)

		err := settings.UpdateSetting(db, settings.KeyExcludedIPs, "192.168.1.100")
		require.NoError(t, err)

		isExcluded, err := settings.IsIPExcluded("10.0.0.5")
		require.NoError(t, err)
		assert.False(t, isExcluded, "Second IP should not be excluded initially")

		err = settings.UpdateSetting(db, settings.KeyExcludedIPs, "192.168.1.100,10.0.0.5")
		require.NoError(t, err)

		isExcluded, err = settings.IsIPExcluded("10.0.0.5")
		require.NoError(t, err)
		assert.True(t, isExcluded, "Second IP should be excluded after the update")
	})
}

func TestExcludedIPsRoundTrip(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	require.NoError(t, settings.SetupDefaultSettings(db))

	ips, err := settings.GetExcludedIPs(db)
	require.NoError(t, err)
	assert.Empty(t, ips)

	err = settings.UpdateExcludedIPs(db, []string{" 203.0.113.7 ", "", "198.51.100.2"})
	require.NoError(t, err)

	ips, err = settings.GetExcludedIPs(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.7", "198.51.100.2"}, ips)
}

func TestAdminAPIKey(t *testing.T) {
	t.Run("creates key on first access", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		key, err := settings.GetOrCreateAdminAPIKey(db)
		require.NoError(t, err)
		assert.Len(t, key, 32)

		again, err := settings.GetOrCreateAdminAPIKey(db)
		require.NoError(t, err)
		assert.Equal(t, key, again, "Repeated access should return the same key")
	})

	t.Run("regenerate replaces the key", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		first, err := settings.GetOrCreateAdminAPIKey(db)
		require.NoError(t, err)

		second, err := settings.RegenerateAdminAPIKey(db)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		stored, err := settings.GetAdminAPIKey(db)
		require.NoError(t, err)
		assert.Equal(t, second, stored)
	})
}
