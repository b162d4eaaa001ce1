package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
)

// ErrNoRules is returned when every rule source is empty and there is nothing to scan for.
var ErrNoRules = errors.New("no desired items, ilvl rules or pets configured")

// russianRealmIDs are the EU connected realms hosting Russian-language realms.
var russianRealmIDs = map[int64]bool{
	1602: true, 1603: true, 1604: true, 1605: true, 1614: true, 1615: true, 1616: true,
	1922: true, 1923: true, 1924: true, 1925: true, 1926: true, 1927: true, 1928: true, 1929: true,
}

// IsRussianRealm reports whether a connected realm id is on the Russian deny-list.
func IsRussianRealm(id int64) bool {
	return russianRealmIDs[id]
}

// Data is everything the engine reads once at startup
type Data struct {
	DesiredItems map[int64]float64
	IlvlRules    []*models.IlvlRule
	PetRules     map[int64]models.PetRule

	Realms     map[string]int64
	RealmNames map[int64][]string

	Bonuses   *models.BonusTables
	Catalog   map[int64]CatalogItem
	ItemNames map[int64]string
	PetNames  map[int64]string
}

// CatalogItem is one entry of the static item-level catalog
type CatalogItem struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Ilvl          int    `json:"ilvl"`
	RequiredLevel int    `json:"required_level"`
}

// RawIlvlRule is an ilvl rule as written in the user's rule file
type RawIlvlRule struct {
	Ilvl           int     `json:"ilvl"`
	MaxIlvl        int     `json:"max_ilvl"`
	Buyout         float64 `json:"buyout"`
	Sockets        bool    `json:"sockets"`
	Speed          bool    `json:"speed"`
	Leech          bool    `json:"leech"`
	Avoidance      bool    `json:"avoidance"`
	ItemIDs        []int64 `json:"item_ids"`
	RequiredMinLvl int     `json:"required_min_lvl"`
	RequiredMaxLvl int     `json:"required_max_lvl"`
	BonusLists     []int   `json:"bonus_lists"`
}

type rawBonuses struct {
	Sockets       []int          `json:"sockets"`
	Speed         []int          `json:"speed"`
	Leech         []int          `json:"leech"`
	Avoidance     []int          `json:"avoidance"`
	IlvlAdditions map[string]int `json:"ilvl_additions"`
}

// Load reads rules and static tables for the configured region.
func Load(cfg *config.Config) (*Data, error) {
	desired, err := LoadDesiredItems(cfg.DesiredItemsFile)
	if err != nil {
		return nil, err
	}

	rawIlvl, err := LoadRawIlvlRules(cfg.DesiredIlvlFile)
	if err != nil {
		return nil, err
	}

	pets, err := LoadPetRules(cfg.DesiredPetsFile)
	if err != nil {
		return nil, err
	}

	realms, err := LoadRealms(cfg.DataDir, cfg.Region, cfg.NoRussianRealms)
	if err != nil {
		return nil, err
	}

	bonuses, err := LoadBonusTables(filepath.Join(cfg.DataDir, "bonuses.json"))
	if err != nil {
		return nil, err
	}

	catalog, err := LoadItemCatalog(filepath.Join(cfg.DataDir, "item_catalog.json"))
	if err != nil {
		return nil, err
	}

	itemNames, err := loadNames(filepath.Join(cfg.DataDir, "item_names.json"))
	if err != nil {
		return nil, err
	}
	for id, item := range catalog {
		if _, ok := itemNames[id]; !ok && item.Name != "" {
			itemNames[id] = item.Name
		}
	}

	petNames, err := loadNames(filepath.Join(cfg.DataDir, "pet_names.json"))
	if err != nil {
		return nil, err
	}

	data := &Data{
		DesiredItems: desired,
		IlvlRules:    BuildIlvlRules(rawIlvl, catalog),
		PetRules:     pets,
		Realms:       realms,
		RealmNames:   invertRealms(realms),
		Bonuses:      bonuses,
		Catalog:      catalog,
		ItemNames:    itemNames,
		PetNames:     petNames,
	}

	// ilvl rules naming only uncatalogued items resolve to nothing
	if len(data.DesiredItems) == 0 && len(data.IlvlRules) == 0 && len(data.PetRules) == 0 {
		return nil, ErrNoRules
	}

	log.Info().
		Int("desired_items", len(data.DesiredItems)).
		Int("ilvl_rules", len(data.IlvlRules)).
		Int("pet_rules", len(data.PetRules)).
		Int("realms", len(data.Realms)).
		Str("region", cfg.Region).
		Msg("Loaded rules and reference data")

	return data, nil
}

// LoadDesiredItems reads the item id -> max gold price map. A missing file means no rules.
func LoadDesiredItems(path string) (map[int64]float64, error) {
	raw := make(map[string]float64)
	if err := readJSON(path, &raw, true); err != nil {
		return nil, err
	}

	out := make(map[int64]float64, len(raw))
	for key, price := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || id <= 0 || id == models.PetCageItemID || price <= 0 {
			log.Warn().Str("item_id", key).Float64("price", price).Msg("Discarding invalid desired item")
			continue
		}
		out[id] = price
	}
	return out, nil
}

// LoadRawIlvlRules reads the ilvl rule list, applying defaults and dropping entries
// that break the range invariants.
func LoadRawIlvlRules(path string) ([]RawIlvlRule, error) {
	var raw []RawIlvlRule
	if err := readJSON(path, &raw, true); err != nil {
		return nil, err
	}

	out := make([]RawIlvlRule, 0, len(raw))
	for i, r := range raw {
		if r.MaxIlvl == 0 {
			r.MaxIlvl = 10000
		}
		if r.RequiredMinLvl == 0 {
			r.RequiredMinLvl = 1
		}
		if r.RequiredMaxLvl == 0 {
			r.RequiredMaxLvl = 1000
		}

		if r.Buyout <= 0 || r.MaxIlvl < r.Ilvl || r.RequiredMaxLvl < r.RequiredMinLvl {
			log.Warn().Int("index", i).Int("ilvl", r.Ilvl).Float64("buyout", r.Buyout).Msg("Discarding invalid ilvl rule")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadPetRules reads the pet rule list keyed by species id.
func LoadPetRules(path string) (map[int64]models.PetRule, error) {
	var raw []models.PetRule
	if err := readJSON(path, &raw, true); err != nil {
		return nil, err
	}

	out := make(map[int64]models.PetRule, len(raw))
	for _, p := range raw {
		if p.PetID == 0 || p.Price <= 0 {
			log.Warn().Int64("pet_id", p.PetID).Float64("price", p.Price).Msg("Discarding invalid pet rule")
			continue
		}
		out[p.PetID] = p
	}
	return out, nil
}

// LoadRealms reads the realm directory for a region (realm name -> connected realm id).
func LoadRealms(dataDir, region string, noRussian bool) (map[string]int64, error) {
	path := filepath.Join(dataDir, "realms", strings.ToLower(region)+".json")

	realms := make(map[string]int64)
	if err := readJSON(path, &realms, false); err != nil {
		return nil, err
	}

	if noRussian && strings.HasPrefix(region, "EU") {
		for name, id := range realms {
			if IsRussianRealm(id) {
				delete(realms, name)
			}
		}
	}
	return realms, nil
}

// LoadBonusTables reads the static bonus id attribute tables.
func LoadBonusTables(path string) (*models.BonusTables, error) {
	var raw rawBonuses
	if err := readJSON(path, &raw, false); err != nil {
		return nil, err
	}

	tables := &models.BonusTables{
		Sockets:       toSet(raw.Sockets),
		Speed:         toSet(raw.Speed),
		Leech:         toSet(raw.Leech),
		Avoidance:     toSet(raw.Avoidance),
		IlvlAdditions: make(map[int]int, len(raw.IlvlAdditions)),
	}
	for key, add := range raw.IlvlAdditions {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid bonus id %q in %s", key, path)
		}
		tables.IlvlAdditions[id] = add
	}
	return tables, nil
}

// LoadItemCatalog reads the static item catalog (base ilvl and required level per item).
func LoadItemCatalog(path string) (map[int64]CatalogItem, error) {
	var items []CatalogItem
	if err := readJSON(path, &items, false); err != nil {
		return nil, err
	}

	out := make(map[int64]CatalogItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

func loadNames(path string) (map[int64]string, error) {
	raw := make(map[string]string)
	if err := readJSON(path, &raw, true); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(raw))
	for key, name := range raw {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			out[id] = name
		}
	}
	return out, nil
}

func invertRealms(realms map[string]int64) map[int64][]string {
	out := make(map[int64][]string)
	for name, id := range realms {
		out[id] = append(out[id], name)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}

func toSet(ids []int) map[int]bool {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func readJSON(path string, v interface{}, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
