package battlenet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Classic auction house ids per faction
const (
	AuctionHouseAlliance = 2
	AuctionHouseHorde    = 6
	AuctionHouseNeutral  = 7
)

var factionHouses = map[string][]int{
	"all":       {AuctionHouseAlliance, AuctionHouseHorde, AuctionHouseNeutral},
	"alliance":  {AuctionHouseAlliance},
	"horde":     {AuctionHouseHorde},
	"booty bay": {AuctionHouseNeutral},
}

// FetchError is a non-fatal per-source failure (429, non-200 or transport error).
type FetchError struct {
	SourceID   int64
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch source %d: status %d: %v", e.SourceID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch source %d: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Modifier is an item modifier; type 9 carries the required character level.
type Modifier struct {
	Type  int `json:"type"`
	Value int `json:"value"`
}

const ModifierRequiredLevel = 9

// AuctionItem is the item block of an auction
type AuctionItem struct {
	ID           int64      `json:"id"`
	BonusLists   []int      `json:"bonus_lists,omitempty"`
	Modifiers    []Modifier `json:"modifiers,omitempty"`
	PetBreedID   int        `json:"pet_breed_id,omitempty"`
	PetLevel     int        `json:"pet_level,omitempty"`
	PetQualityID int        `json:"pet_quality_id,omitempty"`
	PetSpeciesID int64      `json:"pet_species_id,omitempty"`
}

// Auction is a single listing as returned by the auctions and commodities endpoints
type Auction struct {
	ID        int64       `json:"id"`
	Item      AuctionItem `json:"item"`
	Buyout    int64       `json:"buyout,omitempty"`
	Bid       int64       `json:"bid,omitempty"`
	UnitPrice int64       `json:"unit_price,omitempty"`
	Quantity  int64       `json:"quantity"`
	TimeLeft  string      `json:"time_left"`
}

type auctionsResponse struct {
	Auctions []Auction `json:"auctions"`
}

// SourceResult is the merged auction data of one source
type SourceResult struct {
	SourceID     int64
	Auctions     []Auction
	LastModified string
}

// ClientConfig selects the region family and request budget.
type ClientConfig struct {
	Region    string // NA, EU, NACLASSIC, ... as in the engine config
	Faction   string
	RateLimit int // requests per second
	BaseURL   string
}

// Client wraps the Battle.net Game Data API auction endpoints
type Client struct {
	httpClient *http.Client
	tokens     *TokenManager
	region     string
	apiRegion  string
	faction    string
	baseURL    string
	limiter    *rate.Limiter
	shared     *RateLimiter
}

// NewClient creates a new Battle.net client. shared may be nil.
func NewClient(cfg ClientConfig, tokens *TokenManager, shared *RateLimiter) *Client {
	apiRegion := "us"
	if strings.HasPrefix(cfg.Region, "EU") {
		apiRegion = "eu"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.api.blizzard.com", apiRegion)
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 100
	}

	faction := cfg.Faction
	if faction == "" {
		faction = "all"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		tokens:    tokens,
		region:    cfg.Region,
		apiRegion: apiRegion,
		faction:   faction,
		baseURL:   strings.TrimRight(baseURL, "/"),
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		shared:    shared,
	}
}

func (c *Client) classic() bool {
	return strings.Contains(c.region, "CLASSIC")
}

// namespace returns the dynamic namespace for the region family
func (c *Client) namespace() string {
	switch {
	case strings.Contains(c.region, "SOD"):
		return "dynamic-classic1x-" + c.apiRegion
	case c.classic():
		return "dynamic-classic-" + c.apiRegion
	default:
		return "dynamic-" + c.apiRegion
	}
}

// AuctionURLs returns every URL that must be fetched for a source.
func (c *Client) AuctionURLs(sourceID int64) []string {
	query := fmt.Sprintf("?namespace=%s&locale=en_US", c.namespace())

	if sourceID < 0 {
		return []string{c.baseURL + "/data/wow/auctions/commodities" + query}
	}

	if !c.classic() {
		return []string{fmt.Sprintf("%s/data/wow/connected-realm/%d/auctions%s", c.baseURL, sourceID, query)}
	}

	houses := factionHouses[c.faction]
	urls := make([]string, 0, len(houses))
	for _, ah := range houses {
		urls = append(urls, fmt.Sprintf("%s/data/wow/connected-realm/%d/auctions/%d%s", c.baseURL, sourceID, ah, query))
	}
	return urls
}

// FetchSource fetches all auctions of a connected realm or commodity pool.
// Any failure is returned as *FetchError; nothing is retried here.
func (c *Client) FetchSource(ctx context.Context, sourceID int64) (*SourceResult, error) {
	result := &SourceResult{SourceID: sourceID}

	for _, url := range c.AuctionURLs(sourceID) {
		body, lastModified, err := c.get(ctx, url)
		if err != nil {
			return nil, c.wrap(sourceID, err)
		}

		var response auctionsResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, &FetchError{SourceID: sourceID, Err: fmt.Errorf("failed to parse response: %w", err)}
		}

		result.Auctions = append(result.Auctions, response.Auctions...)
		if lastModified != "" {
			result.LastModified = lastModified
		}
	}

	log.Debug().
		Int64("source_id", sourceID).
		Int("auctions", len(result.Auctions)).
		Str("last_modified", result.LastModified).
		Msg("Fetched auctions")

	return result, nil
}

// FetchTokenPrice returns the current WoW token price in gold.
func (c *Client) FetchTokenPrice(ctx context.Context) (int64, error) {
	url := fmt.Sprintf("%s/data/wow/token/index?namespace=%s&locale=en_US", c.baseURL, c.namespace())

	body, _, err := c.get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch token price: %w", err)
	}

	price := gjson.GetBytes(body, "price")
	if !price.Exists() {
		return 0, fmt.Errorf("token response missing price")
	}
	return price.Int() / 10000, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.code, e.body)
}

func (c *Client) wrap(sourceID int64, err error) *FetchError {
	fe := &FetchError{SourceID: sourceID, Err: err}
	if se, ok := err.(*statusError); ok {
		fe.StatusCode = se.code
	}
	return fe
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.shared != nil {
		return c.shared.WaitForTicket(ctx)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, string, error) {
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, "", err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		log.Warn().Str("url", url).Msg("Rate limited by Battle.net API")
		return nil, "", &statusError{code: resp.StatusCode, body: "rate limited"}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		errMsg := string(body)
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		return nil, "", &statusError{code: resp.StatusCode, body: errMsg}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.Header.Get("Last-Modified"), nil
}
