package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/metrics"
	"github.com/akagifreeez/azeroth-sniper/internal/models"
	"github.com/akagifreeez/azeroth-sniper/pkg/retryhttp"
)

// MaxEmbedsPerMessage is Discord's embed limit for one webhook message
const MaxEmbedsPerMessage = 10

const webhookUsername = "Azeroth Sniper"

var kindColors = map[models.MatchKind]int{
	models.MatchFlat: 0xFFA500,
	models.MatchIlvl: 0xA335EE,
	models.MatchPet:  0x1EFF00,
}

// TokenPriceFetcher returns the current WoW token price in gold
type TokenPriceFetcher interface {
	FetchTokenPrice(ctx context.Context) (int64, error)
}

// AlertService formats matches, de-duplicates them against the ledger and sends them
// to the Discord webhook
type AlertService struct {
	http       *retryablehttp.Client
	webhookURL string

	region      string
	apiRegion   string
	classic     bool
	noLinks     bool
	wowheadLink bool
	tokenPrice  int64

	ledger  Ledger
	history History
	printer *message.Printer
	now     func() time.Time
}

// NewAlertService creates an AlertService. history may be nil.
func NewAlertService(cfg *config.Config, ledger Ledger, history History, httpClient *retryablehttp.Client) *AlertService {
	if httpClient == nil {
		httpClient = retryhttp.NewClient(retryhttp.DefaultRetries, retryhttp.DefaultDelay)
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}

	return &AlertService{
		http:        httpClient,
		webhookURL:  cfg.DiscordWebhookURL,
		region:      cfg.Region,
		apiRegion:   cfg.APIRegion(),
		classic:     cfg.IsClassic(),
		noLinks:     cfg.NoLinks,
		wowheadLink: cfg.WowheadLink,
		tokenPrice:  cfg.TokenPrice,
		ledger:      ledger,
		history:     history,
		printer:     message.NewPrinter(language.English),
		now:         time.Now,
	}
}

// Notify sends every match not yet in the ledger, 10 embeds per message. It returns the
// number of matches that passed de-duplication. Send failures are logged, not returned.
func (a *AlertService) Notify(ctx context.Context, sourceID int64, matches []*models.Match) int {
	fresh := make([]*models.Match, 0, len(matches))
	for _, m := range matches {
		isNew, err := a.ledger.Claim(ctx, m.Fingerprint())
		if err != nil {
			log.Warn().Err(err).Int64("source_id", sourceID).Msg("Ledger unavailable, sending alert anyway")
			isNew = true
		}
		if !isNew {
			metrics.DuplicatesTotal.Inc()
			continue
		}
		fresh = append(fresh, m)
	}

	if len(fresh) == 0 {
		log.Debug().Int64("source_id", sourceID).Int("matches", len(matches)).Msg("All matches already alerted")
		return 0
	}

	header := a.Header(sourceID, fresh[0].RealmNames)
	for start := 0; start < len(fresh); start += MaxEmbedsPerMessage {
		end := start + MaxEmbedsPerMessage
		if end > len(fresh) {
			end = len(fresh)
		}

		embeds := make([]*discordgo.MessageEmbed, 0, end-start)
		for _, m := range fresh[start:end] {
			embeds = append(embeds, a.FormatEmbed(m))
		}

		a.send(ctx, &discordgo.WebhookParams{
			Content:  header,
			Username: webhookUsername,
			Embeds:   embeds,
		})
	}

	if a.history != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.history.RecordAlerts(hctx, fresh); err != nil {
			log.Warn().Err(err).Msg("Failed to record alert history")
		}
		cancel()
	}

	log.Info().
		Int64("source_id", sourceID).
		Int("alerts", len(fresh)).
		Int("duplicates", len(matches)-len(fresh)).
		Msg("Snipe alerts sent")

	return len(fresh)
}

// Header is the shared first line of every message for one source
func (a *AlertService) Header(sourceID int64, realmNames []string) string {
	if models.IsCommodity(sourceID) {
		return fmt.Sprintf("**%s** snipes | Commodities", a.region)
	}
	return fmt.Sprintf("**%s** snipes | realm %d | %s", a.region, sourceID, strings.Join(realmNames, ", "))
}

// FormatEmbed renders one match
func (a *AlertService) FormatEmbed(m *models.Match) *discordgo.MessageEmbed {
	name := m.Name
	if name == "" {
		name = "Unknown"
	}

	embed := &discordgo.MessageEmbed{
		Color:     kindColors[m.Kind],
		Timestamp: a.now().Format(time.RFC3339),
	}

	var raw string
	switch m.Kind {
	case models.MatchFlat:
		embed.Title = fmt.Sprintf("%s (%d)", name, m.ID)
		if len(m.BuyoutPrices) > 0 {
			embed.Fields = append(embed.Fields, a.field("Buyout", a.goldList(m.BuyoutPrices), true))
		}
		if len(m.BidPrices) > 0 {
			embed.Fields = append(embed.Fields, a.field("Bid", a.goldList(m.BidPrices), true))
		}
		raw = rawPrices(append(append([]float64(nil), m.BuyoutPrices...), m.BidPrices...))

	case models.MatchIlvl:
		embed.Title = fmt.Sprintf("%s (%d) ilvl %d", name, m.ID, m.Ilvl)
		embed.Fields = append(embed.Fields,
			a.field("Price", a.gold(m.Price), true),
			a.field("Item Level", strconv.Itoa(m.Ilvl), true),
			a.field("Required Level", strconv.Itoa(m.RequiredLevel), true),
			a.field("Tertiary", statsText(m.Stats), true),
			a.field("Bonus IDs", joinInts(m.BonusIDs, ", "), false),
		)
		raw = rawPrices([]float64{m.Price})

	case models.MatchPet:
		embed.Title = fmt.Sprintf("%s (pet %d)", name, m.ID)
		embed.Fields = append(embed.Fields,
			a.field("Price", a.gold(m.Price), true),
			a.field("Level", strconv.Itoa(m.PetLevel), true),
			a.field("Quality", strconv.Itoa(m.PetQuality), true),
			a.field("Breed", strconv.Itoa(m.PetBreed), true),
		)
		raw = rawPrices([]float64{m.Price})
	}

	if !a.noLinks {
		inspect := a.inspectLink(m)
		embed.URL = inspect
		links := []string{fmt.Sprintf("[Inspect](%s)", inspect)}
		if m.Kind != models.MatchPet {
			links = append(links, fmt.Sprintf("[Saddlebag](https://saddlebagexchange.com/wow/item-data/%d)", m.ID))
			if undermine := a.undermineLink(m); undermine != "" {
				links = append(links, fmt.Sprintf("[Undermine](%s)", undermine))
			}
		}
		embed.Fields = append(embed.Fields, a.field("Links", strings.Join(links, " | "), false))
	}

	embed.Fields = append(embed.Fields, a.field("Raw Price", raw, false))
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%s | %s", webhookUsername, a.region)}
	return embed
}

// CheckTokenPrice alerts when the token price drops below the configured threshold.
// Failures are logged and swallowed.
func (a *AlertService) CheckTokenPrice(ctx context.Context, fetcher TokenPriceFetcher) {
	if a.tokenPrice <= 0 || a.classic {
		return
	}

	price, err := fetcher.FetchTokenPrice(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Token price check failed")
		return
	}

	if a.history != nil {
		if err := a.history.RecordTokenPrice(ctx, a.region, price); err != nil {
			log.Warn().Err(err).Msg("Failed to record token price")
		}
	}

	if price >= a.tokenPrice {
		log.Debug().Int64("price", price).Int64("threshold", a.tokenPrice).Msg("Token price above threshold")
		return
	}

	log.Info().Int64("price", price).Int64("threshold", a.tokenPrice).Msg("Token price below threshold")
	a.send(ctx, &discordgo.WebhookParams{
		Content:  fmt.Sprintf("**%s** WoW token", a.region),
		Username: webhookUsername,
		Embeds: []*discordgo.MessageEmbed{{
			Title:     "WoW Token below threshold",
			Color:     0x00CCFF,
			Timestamp: a.now().Format(time.RFC3339),
			Fields: []*discordgo.MessageEmbedField{
				a.field("Price", a.printer.Sprintf("%dg", price), true),
				a.field("Threshold", a.printer.Sprintf("%dg", a.tokenPrice), true),
			},
		}},
	})
}

// SendStartup announces the engine. Debug mode runs a single pass and says so.
func (a *AlertService) SendStartup(ctx context.Context, debug bool) {
	content := fmt.Sprintf("Sniper started for **%s**. Scanning sources as new auction data is published.", a.region)
	if debug {
		content = fmt.Sprintf("Sniper started in **debug** mode for **%s**. Running one full scan, then exiting.", a.region)
	}
	a.send(ctx, &discordgo.WebhookParams{Content: content, Username: webhookUsername})
}

// ResetLedger starts a new alert epoch
func (a *AlertService) ResetLedger(ctx context.Context) {
	if err := a.ledger.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to reset alert ledger")
		return
	}
	log.Info().Msg("Alert ledger cleared")
}

// LedgerLen returns the number of fingerprints in the current epoch
func (a *AlertService) LedgerLen(ctx context.Context) int {
	return a.ledger.Len(ctx)
}

func (a *AlertService) send(ctx context.Context, params *discordgo.WebhookParams) {
	if a.webhookURL == "" {
		log.Debug().Str("content", params.Content).Int("embeds", len(params.Embeds)).Msg("No webhook configured, skipping send")
		return
	}

	body, err := json.Marshal(params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode webhook payload")
		return
	}

	if _, err := retryhttp.Do(context.WithoutCancel(ctx), a.http, http.MethodPost, a.webhookURL, body); err != nil {
		metrics.AlertsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("Failed to send webhook message")
		return
	}
	metrics.AlertsTotal.WithLabelValues("sent").Inc()
}

func (a *AlertService) inspectLink(m *models.Match) string {
	base := "https://www.wowhead.com"
	if a.classic {
		base += "/classic"
	}

	switch m.Kind {
	case models.MatchPet:
		return fmt.Sprintf("%s/battle-pet/%d", base, m.ID)
	case models.MatchIlvl:
		return fmt.Sprintf("%s/item=%d?bonus=%s&ilvl=%d", base, m.ID, joinInts(m.BonusIDs, ":"), m.Ilvl)
	}

	if !a.wowheadLink {
		return fmt.Sprintf("https://saddlebagexchange.com/wow/item-data/%d", m.ID)
	}
	return fmt.Sprintf("%s/item=%d", base, m.ID)
}

func (a *AlertService) undermineLink(m *models.Match) string {
	if a.classic || models.IsCommodity(m.SourceID) || len(m.RealmNames) == 0 {
		return ""
	}
	return fmt.Sprintf("https://undermine.exchange/#%s-%s/%d", a.apiRegion, realmSlug(m.RealmNames[0]), m.ID)
}

func (a *AlertService) field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func (a *AlertService) gold(v float64) string {
	return a.printer.Sprintf("%.2fg", v)
}

func (a *AlertService) goldList(prices []float64) string {
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = a.gold(p)
	}
	return strings.Join(parts, ", ")
}

func rawPrices(prices []float64) string {
	parts := make([]string, len(prices))
	for i, p := range prices {
		parts[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	return strings.Join(parts, ", ")
}

func statsText(s models.TertiaryStats) string {
	var parts []string
	if s.Sockets {
		parts = append(parts, "Socket")
	}
	if s.Speed {
		parts = append(parts, "Speed")
	}
	if s.Leech {
		parts = append(parts, "Leech")
	}
	if s.Avoidance {
		parts = append(parts, "Avoidance")
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, ", ")
}

func joinInts(ids []int, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, sep)
}

func realmSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, "'", "")
	return strings.ReplaceAll(slug, " ", "-")
}
