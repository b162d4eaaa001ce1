package services

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/metrics"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
	"github.com/akagifreeez/azeroth-sniper/internal/reference"
)

// deniedWildcardItem produces constant false positives under wildcard bonus rules
const deniedWildcardItem int64 = 224637

// maxExtraBonuses is how many non-tertiary bonus ids a wildcard rule tolerates
const maxExtraBonuses = 3

var copperPerGold = decimal.NewFromInt(10000)

// ToGold converts raw copper to gold rounded to 2 decimals.
func ToGold(copper int64) float64 {
	return decimal.NewFromInt(copper).Div(copperPerGold).Round(2).InexactFloat64()
}

// Matcher evaluates listings against the flat, ilvl and pet rules
type Matcher struct {
	region        string
	showBidPrices bool

	desired    map[int64]float64
	ilvlByItem map[int64][]*models.IlvlRule
	pets       map[int64]models.PetRule
	bonuses    *models.BonusTables

	itemNames  map[int64]string
	petNames   map[int64]string
	realmNames map[int64][]string
}

// NewMatcher indexes the loaded rules for per-listing lookups
func NewMatcher(cfg *config.Config, data *reference.Data) *Matcher {
	byItem := make(map[int64][]*models.IlvlRule)
	for _, rule := range data.IlvlRules {
		for id := range rule.ItemIDs {
			byItem[id] = append(byItem[id], rule)
		}
	}

	bonuses := data.Bonuses
	if bonuses == nil {
		bonuses = &models.BonusTables{}
	}

	return &Matcher{
		region:        cfg.Region,
		showBidPrices: cfg.ShowBidPrices,
		desired:       data.DesiredItems,
		ilvlByItem:    byItem,
		pets:          data.PetRules,
		bonuses:       bonuses,
		itemNames:     data.ItemNames,
		petNames:      data.PetNames,
		realmNames:    data.RealmNames,
	}
}

// MatchListings evaluates every listing of one source. It stops early (returning nil)
// when ctx is cancelled.
func (m *Matcher) MatchListings(ctx context.Context, sourceID int64, listings []models.Listing) []*models.Match {
	var matches []*models.Match
	flat := make(map[int64]*models.Match)
	var flatOrder []int64

	for i := range listings {
		if ctx.Err() != nil {
			log.Info().Int64("source_id", sourceID).Msg("Stop requested, abandoning listing evaluation")
			return nil
		}
		l := &listings[i]

		switch l.Kind {
		case models.ListingPet:
			if match := m.CheckPet(l); match != nil {
				matches = append(matches, match)
			}
		default:
			if _, ok := m.desired[l.ItemID]; ok {
				if m.addFlat(flat, l) {
					flatOrder = append(flatOrder, l.ItemID)
				}
			}
			for _, rule := range m.ilvlByItem[l.ItemID] {
				if match := m.CheckIlvl(rule, l); match != nil {
					matches = append(matches, match)
				}
			}
		}
	}

	for _, id := range flatOrder {
		matches = append(matches, flat[id])
	}

	if len(matches) == 0 {
		log.Debug().Int64("source_id", sourceID).Int("listings", len(listings)).Msg("No snipes found")
		return nil
	}

	names := m.realmNames[sourceID]
	if models.IsCommodity(sourceID) {
		names = []string{"Commodities"}
	}
	for _, match := range matches {
		match.SourceID = sourceID
		match.Region = m.region
		match.RealmNames = names
		metrics.MatchesTotal.WithLabelValues(string(match.Kind)).Inc()
	}

	return matches
}

// addFlat records a listing's prices against its desired-item cap. Returns true when a
// new match entry was created for the item.
func (m *Matcher) addFlat(flat map[int64]*models.Match, l *models.Listing) bool {
	limit := m.desired[l.ItemID]

	buyout := l.Buyout
	if buyout == 0 {
		buyout = l.UnitPrice
	}

	var buyoutGold, bidGold float64
	hasBuyout := buyout > 0 && ToGold(buyout) <= limit
	if hasBuyout {
		buyoutGold = ToGold(buyout)
	}
	hasBid := m.showBidPrices && l.Bid > 0 && ToGold(l.Bid) <= limit
	if hasBid {
		bidGold = ToGold(l.Bid)
	}
	if !hasBuyout && !hasBid {
		return false
	}

	match, exists := flat[l.ItemID]
	if !exists {
		match = &models.Match{
			Kind: models.MatchFlat,
			ID:   l.ItemID,
			Name: m.itemNames[l.ItemID],
		}
		flat[l.ItemID] = match
	}
	if hasBuyout && !containsPrice(match.BuyoutPrices, buyoutGold) {
		match.BuyoutPrices = append(match.BuyoutPrices, buyoutGold)
	}
	if hasBid && !containsPrice(match.BidPrices, bidGold) {
		match.BidPrices = append(match.BidPrices, bidGold)
	}
	return !exists
}

// CheckIlvl runs the ordered ilvl/tertiary gate. It returns nil on rejection.
func (m *Matcher) CheckIlvl(rule *models.IlvlRule, l *models.Listing) *models.Match {
	if len(l.BonusLists) == 0 {
		return nil
	}

	stats := m.tertiaryStats(l.BonusLists)
	if rule.Stats.Any() && !stats.Covers(rule.Stats) {
		return nil
	}

	ilvl := m.EffectiveIlvl(rule.BaseIlvls[l.ItemID], l.BonusLists)
	if ilvl < rule.MinIlvl || ilvl > rule.MaxIlvl {
		return nil
	}

	required := l.RequiredLevel
	if required == 0 {
		required = rule.BaseRequiredLevels[l.ItemID]
	}
	if required < rule.MinCharLvl || required > rule.MaxCharLvl {
		return nil
	}

	if rule.BonusLists != nil && !rule.Wildcard() {
		if !sameSet(rule.BonusLists, l.BonusLists) {
			return nil
		}
	}

	if rule.Wildcard() {
		extra := 0
		for _, id := range l.BonusLists {
			if !m.bonuses.IsTertiary(id) {
				extra++
			}
		}
		if extra > maxExtraBonuses || l.ItemID == deniedWildcardItem {
			return nil
		}
	}

	raw := l.Buyout
	if raw == 0 {
		raw = l.Bid
	}
	if raw == 0 {
		return nil
	}
	price := ToGold(raw)
	if price > rule.Buyout {
		return nil
	}

	bonusIDs := append([]int(nil), l.BonusLists...)
	sort.Ints(bonusIDs)

	name := rule.ItemNames[l.ItemID]
	if name == "" {
		name = m.itemNames[l.ItemID]
	}

	return &models.Match{
		Kind:          models.MatchIlvl,
		ID:            l.ItemID,
		Name:          name,
		Price:         price,
		Ilvl:          ilvl,
		RequiredLevel: required,
		Stats:         stats,
		BonusIDs:      bonusIDs,
	}
}

// CheckPet runs the ordered pet gate. It returns nil on rejection.
func (m *Matcher) CheckPet(l *models.Listing) *models.Match {
	rule, ok := m.pets[l.PetSpeciesID]
	if !ok {
		return nil
	}
	if l.PetLevel == 0 || l.PetLevel < rule.MinLevel {
		return nil
	}
	if l.PetQuality < rule.MinQuality {
		return nil
	}
	if rule.Excludes(l.PetBreedID) {
		return nil
	}
	if l.Buyout == 0 {
		return nil
	}
	price := ToGold(l.Buyout)
	if price > rule.Price {
		return nil
	}

	return &models.Match{
		Kind:       models.MatchPet,
		ID:         l.PetSpeciesID,
		Name:       m.petNames[l.PetSpeciesID],
		Price:      price,
		PetLevel:   l.PetLevel,
		PetQuality: l.PetQuality,
		PetBreed:   l.PetBreedID,
	}
}

// EffectiveIlvl is the base ilvl plus every known bonus addition; unknown ids add 0.
func (m *Matcher) EffectiveIlvl(base int, bonusIDs []int) int {
	ilvl := base
	for _, id := range bonusIDs {
		ilvl += m.bonuses.IlvlAdditions[id]
	}
	return ilvl
}

func (m *Matcher) tertiaryStats(bonusIDs []int) models.TertiaryStats {
	var s models.TertiaryStats
	for _, id := range bonusIDs {
		s.Sockets = s.Sockets || m.bonuses.Sockets[id]
		s.Speed = s.Speed || m.bonuses.Speed[id]
		s.Leech = s.Leech || m.bonuses.Leech[id]
		s.Avoidance = s.Avoidance || m.bonuses.Avoidance[id]
	}
	return s
}

func sameSet(a, b []int) bool {
	as := make(map[int]bool, len(a))
	for _, id := range a {
		as[id] = true
	}
	bs := make(map[int]bool, len(b))
	for _, id := range b {
		bs[id] = true
	}
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if !bs[id] {
			return false
		}
	}
	return true
}

func containsPrice(prices []float64, p float64) bool {
	for _, existing := range prices {
		if existing == p {
			return true
		}
	}
	return false
}
