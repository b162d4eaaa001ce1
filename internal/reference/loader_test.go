package reference

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T, region string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, dir, "realms/"+strings.ToLower(region)+".json", `{"Kazzak": 1305, "Gordunni": 1602, "Draenor": 1403, "Blade's Edge": 1403}`)
	writeFile(t, dir, "bonuses.json", `{
		"sockets": [523, 6514],
		"speed": [42],
		"leech": [41],
		"avoidance": [40],
		"ilvl_additions": {"1472": 5, "6652": 0, "7189": 13}
	}`)
	writeFile(t, dir, "item_catalog.json", `[
		{"id": 193001, "name": "Ring A", "ilvl": 382, "required_level": 70},
		{"id": 193002, "name": "Cloak B", "ilvl": 382, "required_level": 68},
		{"id": 19019, "name": "Thunderfury", "ilvl": 80, "required_level": 60}
	]`)
	writeFile(t, dir, "pet_names.json", `{"258": "Eternal Strider"}`)

	return &config.Config{
		Region:           region,
		Faction:          "all",
		NoRussianRealms:  true,
		DataDir:          dir,
		DesiredItemsFile: filepath.Join(dir, "desired_items.json"),
		DesiredIlvlFile:  filepath.Join(dir, "desired_ilvl_list.json"),
		DesiredPetsFile:  filepath.Join(dir, "desired_pets.json"),
	}
}

func TestLoad_NoRulesIsFatal(t *testing.T) {
	cfg := testConfig(t, "EU")

	_, err := Load(cfg)
	assert.True(t, errors.Is(err, ErrNoRules))
}

func TestLoad_UncataloguedIlvlRulesOnlyIsFatal(t *testing.T) {
	cfg := testConfig(t, "EU")
	writeFile(t, cfg.DataDir, "desired_ilvl_list.json", `[{"ilvl": 400, "buyout": 100, "item_ids": [555555]}]`)

	data, err := Load(cfg)
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, ErrNoRules))
}

func TestLoad_FullData(t *testing.T) {
	cfg := testConfig(t, "EU")
	writeFile(t, cfg.DataDir, "desired_items.json", `{"19019": 5000, "82800": 10, "abc": 1, "12345": 0}`)
	writeFile(t, cfg.DataDir, "desired_ilvl_list.json", `[
		{"ilvl": 380, "buyout": 1000, "sockets": true, "item_ids": [193001]},
		{"ilvl": 390, "buyout": 2000},
		{"ilvl": 400, "max_ilvl": 300, "buyout": 2000},
		{"ilvl": 400, "buyout": 0}
	]`)
	writeFile(t, cfg.DataDir, "desired_pets.json", `[
		{"petID": 258, "price": 500, "minLevel": 20, "minQuality": 3, "excludeBreeds": [5]},
		{"petID": 0, "price": 500}
	]`)

	data, err := Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, map[int64]float64{19019: 5000}, data.DesiredItems)
	require.Len(t, data.IlvlRules, 2)
	assert.Len(t, data.PetRules, 1)
	assert.Equal(t, "Eternal Strider", data.PetNames[258])

	// Gordunni (1602) is Russian and excluded
	assert.NotContains(t, data.Realms, "Gordunni")
	assert.Equal(t, []string{"Blade's Edge", "Draenor"}, data.RealmNames[1403])

	scoped := data.IlvlRules[0]
	assert.Equal(t, 380, scoped.MinIlvl)
	assert.Equal(t, 10000, scoped.MaxIlvl)
	assert.Equal(t, map[int64]bool{193001: true}, scoped.ItemIDs)
	assert.Equal(t, 382, scoped.BaseIlvls[193001])
	assert.Equal(t, 70, scoped.BaseRequiredLevels[193001])
	assert.Equal(t, "Ring A", scoped.ItemNames[193001])
	assert.True(t, scoped.Stats.Sockets)

	broad := data.IlvlRules[1]
	assert.Len(t, broad.ItemIDs, 3)

	assert.Equal(t, 13, data.Bonuses.IlvlAdditions[7189])
	assert.True(t, data.Bonuses.IsTertiary(6514))
	assert.False(t, data.Bonuses.IsTertiary(7189))
}

func TestLoadRealms_KeepsRussianWhenAllowed(t *testing.T) {
	cfg := testConfig(t, "EU")

	realms, err := LoadRealms(cfg.DataDir, "EU", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1602), realms["Gordunni"])
}

func TestBuildIlvlRules_WildcardAndExactBonuses(t *testing.T) {
	catalog := map[int64]CatalogItem{1: {ID: 1, Ilvl: 100}}
	rules := BuildIlvlRules([]RawIlvlRule{
		{Ilvl: 100, MaxIlvl: 200, Buyout: 10, BonusLists: []int{7, -1, 3}},
		{Ilvl: 100, MaxIlvl: 200, Buyout: 10, BonusLists: []int{9, 3}},
		{Ilvl: 100, MaxIlvl: 200, Buyout: 10, ItemIDs: []int64{999}},
	}, catalog)

	require.Len(t, rules, 2, "rule scoped only to unknown items is dropped")
	assert.True(t, rules[0].Wildcard())
	assert.Equal(t, []int{models.WildcardBonus}, rules[0].BonusLists)
	assert.Equal(t, []int{3, 9}, rules[1].BonusLists)
	assert.False(t, rules[1].Wildcard())
}
