package reference

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/azeroth-sniper/internal/models"
)

// BuildIlvlRules turns raw ilvl rules into effective rules. Rules are grouped by nominal
// ilvl so each group resolves its catalog slice once; explicit item lists are resolved
// against the catalog, and broad rules (no item list) cover the entire catalog.
func BuildIlvlRules(raw []RawIlvlRule, catalog map[int64]CatalogItem) []*models.IlvlRule {
	groups := make(map[int][]RawIlvlRule)
	for _, r := range raw {
		groups[r.Ilvl] = append(groups[r.Ilvl], r)
	}

	ilvls := make([]int, 0, len(groups))
	for ilvl := range groups {
		ilvls = append(ilvls, ilvl)
	}
	sort.Ints(ilvls)

	var allItems []int64
	for id := range catalog {
		allItems = append(allItems, id)
	}

	var rules []*models.IlvlRule
	for _, ilvl := range ilvls {
		for _, r := range groups[ilvl] {
			scope := r.ItemIDs
			if len(scope) == 0 {
				scope = allItems
			}

			rule := &models.IlvlRule{
				MinIlvl:    r.Ilvl,
				MaxIlvl:    r.MaxIlvl,
				Buyout:     r.Buyout,
				MinCharLvl: r.RequiredMinLvl,
				MaxCharLvl: r.RequiredMaxLvl,
				Stats: models.TertiaryStats{
					Sockets:   r.Sockets,
					Speed:     r.Speed,
					Leech:     r.Leech,
					Avoidance: r.Avoidance,
				},
				BonusLists:         normalizeBonusLists(r.BonusLists),
				ItemIDs:            make(map[int64]bool, len(scope)),
				ItemNames:          make(map[int64]string, len(scope)),
				BaseIlvls:          make(map[int64]int, len(scope)),
				BaseRequiredLevels: make(map[int64]int, len(scope)),
			}

			for _, id := range scope {
				item, ok := catalog[id]
				if !ok {
					log.Warn().Int64("item_id", id).Int("ilvl", ilvl).Msg("Item not in static catalog, ignoring for ilvl rule")
					continue
				}
				rule.ItemIDs[id] = true
				rule.ItemNames[id] = item.Name
				rule.BaseIlvls[id] = item.Ilvl
				rule.BaseRequiredLevels[id] = item.RequiredLevel
			}

			if len(rule.ItemIDs) == 0 {
				log.Warn().Int("ilvl", ilvl).Msg("Ilvl rule resolved to no items, dropping")
				continue
			}
			rules = append(rules, rule)
		}
	}
	return rules
}

// normalizeBonusLists maps an empty list to "no constraint" and keeps the wildcard sentinel as-is.
func normalizeBonusLists(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if id == models.WildcardBonus {
			return []int{models.WildcardBonus}
		}
	}
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}
