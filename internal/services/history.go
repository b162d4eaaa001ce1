package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/akagifreeez/azeroth-sniper/internal/models"
)

// History records sent alerts. Implementations must not block the alert path for long.
type History interface {
	RecordAlerts(ctx context.Context, matches []*models.Match) error
	RecordTokenPrice(ctx context.Context, region string, gold int64) error
}

// PGHistory stores alert history in Postgres
type PGHistory struct {
	db *pgxpool.Pool
}

// NewPGHistory creates a Postgres-backed history
func NewPGHistory(db *pgxpool.Pool) *PGHistory {
	return &PGHistory{db: db}
}

// RecordAlerts inserts one row per match in a single batch
func (h *PGHistory) RecordAlerts(ctx context.Context, matches []*models.Match) error {
	if len(matches) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range matches {
		price := decimal.NewFromFloat(m.Price)
		if m.Kind == models.MatchFlat && len(m.BuyoutPrices) > 0 {
			price = decimal.NewFromFloat(m.BuyoutPrices[0])
		} else if m.Kind == models.MatchFlat && len(m.BidPrices) > 0 {
			price = decimal.NewFromFloat(m.BidPrices[0])
		}

		var ilvl *int
		if m.Kind == models.MatchIlvl {
			ilvl = &m.Ilvl
		}

		batch.Queue(`
			INSERT INTO snipe_alerts (fingerprint, kind, region, source_id, item_id, name, price_gold, ilvl, realm_names)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, m.Fingerprint(), string(m.Kind), m.Region, m.SourceID, m.ID, m.Name, price.StringFixed(2), ilvl, m.RealmNames)
	}

	br := h.db.SendBatch(ctx, batch)
	defer br.Close()

	for range matches {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert snipe alert: %w", err)
		}
	}
	return nil
}

// RecordTokenPrice stores one token-price observation
func (h *PGHistory) RecordTokenPrice(ctx context.Context, region string, gold int64) error {
	_, err := h.db.Exec(ctx, `INSERT INTO token_prices (region, price_gold) VALUES ($1, $2)`, region, gold)
	if err != nil {
		return fmt.Errorf("failed to insert token price: %w", err)
	}
	return nil
}
