package services

import (
	"github.com/akagifreeez/azeroth-sniper/internal/models"
	"github.com/akagifreeez/azeroth-sniper/pkg/battlenet"
)

// NewListing resolves a raw auction into its item or pet variant.
func NewListing(a battlenet.Auction) models.Listing {
	l := models.Listing{
		ItemID:    a.Item.ID,
		Buyout:    a.Buyout,
		Bid:       a.Bid,
		UnitPrice: a.UnitPrice,
	}

	if a.Item.ID == models.PetCageItemID {
		l.Kind = models.ListingPet
		l.PetSpeciesID = a.Item.PetSpeciesID
		l.PetLevel = a.Item.PetLevel
		l.PetQuality = a.Item.PetQualityID
		l.PetBreedID = a.Item.PetBreedID
		return l
	}

	l.Kind = models.ListingItem
	l.BonusLists = a.Item.BonusLists
	for _, mod := range a.Item.Modifiers {
		if mod.Type == battlenet.ModifierRequiredLevel {
			l.RequiredLevel = mod.Value
		}
	}
	return l
}

// NewListings converts a whole fetch result.
func NewListings(auctions []battlenet.Auction) []models.Listing {
	out := make([]models.Listing, len(auctions))
	for i, a := range auctions {
		out[i] = NewListing(a)
	}
	return out
}
