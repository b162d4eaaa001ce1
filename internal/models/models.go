package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// PetCageItemID is the single item id every caged battle pet is listed under.
const PetCageItemID int64 = 82800

// Commodity pools are addressed by fixed pseudo realm ids.
const (
	CommodityNA int64 = -1
	CommodityEU int64 = -2
)

// WildcardBonus is the bonus_lists sentinel meaning "any combination with few extra bonuses".
const WildcardBonus = -1

// IsCommodity reports whether a source id is a regional commodity pool.
func IsCommodity(sourceID int64) bool {
	return sourceID == CommodityNA || sourceID == CommodityEU
}

// CommodityID returns the commodity pool id for a region.
func CommodityID(region string) int64 {
	if strings.HasPrefix(region, "EU") {
		return CommodityEU
	}
	return CommodityNA
}

// TertiaryStats holds the four tertiary flags shared by rules and matches
type TertiaryStats struct {
	Sockets   bool `json:"sockets"`
	Speed     bool `json:"speed"`
	Leech     bool `json:"leech"`
	Avoidance bool `json:"avoidance"`
}

// Any reports whether at least one stat is set.
func (t TertiaryStats) Any() bool {
	return t.Sockets || t.Speed || t.Leech || t.Avoidance
}

// Covers reports whether every stat requested in want is present in t.
func (t TertiaryStats) Covers(want TertiaryStats) bool {
	return (!want.Sockets || t.Sockets) &&
		(!want.Speed || t.Speed) &&
		(!want.Leech || t.Leech) &&
		(!want.Avoidance || t.Avoidance)
}

// IlvlRule is an effective item-level snipe rule, already resolved against the item catalog.
type IlvlRule struct {
	MinIlvl    int
	MaxIlvl    int
	Buyout     float64
	MinCharLvl int
	MaxCharLvl int
	Stats      TertiaryStats

	// ItemIDs is never empty on an effective rule; broad rules are expanded at load.
	ItemIDs map[int64]bool

	// BonusLists is nil for "no constraint", [WildcardBonus] for the wildcard, otherwise an exact set.
	BonusLists []int

	ItemNames          map[int64]string
	BaseIlvls          map[int64]int
	BaseRequiredLevels map[int64]int
}

// Wildcard reports whether the rule carries the wildcard bonus constraint.
func (r *IlvlRule) Wildcard() bool {
	return len(r.BonusLists) == 1 && r.BonusLists[0] == WildcardBonus
}

// PetRule describes a desired battle pet.
type PetRule struct {
	PetID         int64   `json:"petID"`
	Price         float64 `json:"price"`
	MinLevel      int     `json:"minLevel"`
	MinQuality    int     `json:"minQuality"`
	ExcludeBreeds []int   `json:"excludeBreeds"`
}

// Excludes reports whether a breed is on the rule's deny list.
func (p PetRule) Excludes(breed int) bool {
	for _, b := range p.ExcludeBreeds {
		if b == breed {
			return true
		}
	}
	return false
}

// BonusTables are the static bonus id attribute tables.
type BonusTables struct {
	Sockets       map[int]bool
	Speed         map[int]bool
	Leech         map[int]bool
	Avoidance     map[int]bool
	IlvlAdditions map[int]int
}

// IsTertiary reports whether a bonus id grants any tertiary stat.
func (b *BonusTables) IsTertiary(id int) bool {
	return b.Sockets[id] || b.Speed[id] || b.Leech[id] || b.Avoidance[id]
}

// UploadTimer tracks the last observed upload for one source.
type UploadTimer struct {
	DataSetID         int64    `json:"dataSetID"`
	DataSetName       []string `json:"dataSetName"`
	LastUploadMinute  int      `json:"lastUploadMinute"`
	LastUploadTimeRaw string   `json:"lastUploadTimeRaw"`
	LastUploadUnix    int64    `json:"lastUploadUnix"`
	Region            string   `json:"region"`
	TableName         string   `json:"tableName"`
}

// ListingKind discriminates the listing variants.
type ListingKind int

const (
	ListingItem ListingKind = iota
	ListingPet
)

// Listing is one auction normalized at ingestion. Zero prices mean the field was absent.
type Listing struct {
	Kind      ListingKind
	ItemID    int64
	Buyout    int64
	Bid       int64
	UnitPrice int64

	// Item fields
	BonusLists    []int
	RequiredLevel int // 0 when no level-requirement modifier was present

	// Pet fields
	PetSpeciesID int64
	PetLevel     int // 0 when missing
	PetQuality   int
	PetBreedID   int
}

// MatchKind tags a Match variant.
type MatchKind string

const (
	MatchFlat MatchKind = "flat"
	MatchIlvl MatchKind = "ilvl"
	MatchPet  MatchKind = "pet"
)

// Match is one alertable snipe found in a source's auctions.
type Match struct {
	Kind       MatchKind
	ID         int64 // item id, or pet species id for MatchPet
	Name       string
	SourceID   int64
	Region     string
	RealmNames []string

	// Flat
	BuyoutPrices []float64
	BidPrices    []float64

	// Ilvl / Pet
	Price float64

	// Ilvl
	Ilvl          int
	RequiredLevel int
	Stats         TertiaryStats
	BonusIDs      []int

	// Pet
	PetLevel   int
	PetQuality int
	PetBreed   int
}

// Fingerprint is a content key used for alert de-duplication.
func (m *Match) Fingerprint() string {
	var price string
	switch m.Kind {
	case MatchFlat:
		buyouts := append([]float64(nil), m.BuyoutPrices...)
		bids := append([]float64(nil), m.BidPrices...)
		sort.Float64s(buyouts)
		sort.Float64s(bids)
		price = fmt.Sprint(buyouts, bids)
	default:
		price = fmt.Sprintf("%.2f", m.Price)
	}

	data := fmt.Sprintf("%s:%d:%s:%d:%d:%d:%d", m.Kind, m.ID, price, m.SourceID, m.Ilvl, m.PetLevel, m.PetBreed)
	hash := md5.Sum([]byte(data))
	return hex.EncodeToString(hash[:])
}
