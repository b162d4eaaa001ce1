package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WOW_REGION", "eu")
	t.Setenv("FACTION", "")
	t.Setenv("EXTRA_ALERTS", "[25, 40]")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RegionEU, cfg.Region)
	assert.Equal(t, "all", cfg.Faction)
	assert.Equal(t, "eu", cfg.APIRegion())
	assert.False(t, cfg.WowheadLink)
	assert.True(t, cfg.ExtraAlerts[25])
	assert.True(t, cfg.ExtraAlerts[40])
	assert.False(t, cfg.ExtraAlerts[0])
}

func TestLoad_ClassicDefaultsWowhead(t *testing.T) {
	t.Setenv("WOW_REGION", "NACLASSIC")
	t.Setenv("WOWHEAD_LINK", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsClassic())
	assert.True(t, cfg.WowheadLink)
	assert.Equal(t, "us", cfg.APIRegion())
}

func TestLoad_InvalidRegion(t *testing.T) {
	t.Setenv("WOW_REGION", "KR")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseMinutes(t *testing.T) {
	got, err := parseMinutes("5, 10 ,55")
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{5: true, 10: true, 55: true}, got)

	_, err = parseMinutes("[61]")
	assert.Error(t, err)

	_, err = parseMinutes("abc")
	assert.Error(t, err)
}

func TestValidate_ScanWindow(t *testing.T) {
	cfg := &Config{Region: RegionNA, ScanTimeMin: 4, ScanTimeMax: 2}
	assert.Error(t, cfg.Validate())
}

func TestLoadBot(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_CLIENT_ID", "123")
	_, err := LoadBot()
	assert.Error(t, err)

	t.Setenv("DISCORD_BOT_TOKEN", "tok")
	t.Setenv("SNIPER_CONTROL_URL", "")
	t.Setenv("BOT_PRESENCE_INTERVAL", "30s")
	cfg, err := LoadBot()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090", cfg.ControlURL)
	assert.Equal(t, 30*time.Second, cfg.PresenceInterval)
}
