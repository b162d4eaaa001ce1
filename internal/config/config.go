package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported WoW regions
const (
	RegionNA           = "NA"
	RegionEU           = "EU"
	RegionNAClassic    = "NACLASSIC"
	RegionEUClassic    = "EUCLASSIC"
	RegionNASODClassic = "NASODCLASSIC"
	RegionEUSODClassic = "EUSODCLASSIC"
)

var validRegions = map[string]bool{
	RegionNA:           true,
	RegionEU:           true,
	RegionNAClassic:    true,
	RegionEUClassic:    true,
	RegionNASODClassic: true,
	RegionEUSODClassic: true,
}

var validFactions = map[string]bool{
	"all":       true,
	"alliance":  true,
	"horde":     true,
	"booty bay": true,
}

type Config struct {
	// Scan target
	Region  string
	Faction string

	// Fetch pool
	ThreadCount  int
	ScanTimeMin  int
	ScanTimeMax  int
	APIRateLimit int
	IdleInterval time.Duration

	// Flags
	ShowBidPrices   bool
	WowheadLink     bool
	NoLinks         bool
	NoRussianRealms bool
	RefreshAlerts   bool
	Debug           bool

	// Alerts
	TokenPrice        int64
	ExtraAlerts       map[int]bool
	DiscordWebhookURL string

	// Battle.net
	WowClientID     string
	WowClientSecret string

	// Inputs
	DataDir          string
	DesiredItemsFile string
	DesiredIlvlFile  string
	DesiredPetsFile  string

	// Optional infrastructure
	RedisURL         string
	DatabaseURL      string
	StatusAddr       string
	ControlJWTSecret string
}

// Load reads the engine configuration from the environment (and .env files).
// The returned config is treated as immutable for the lifetime of a run.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	cfg := &Config{
		Region:  strings.ToUpper(getEnv("WOW_REGION", "")),
		Faction: strings.ToLower(getEnv("FACTION", "")),

		ThreadCount:  getIntEnv("NUMBER_OF_THREADS", 48),
		ScanTimeMin:  getIntEnv("SCAN_TIME_MIN", 1),
		ScanTimeMax:  getIntEnv("SCAN_TIME_MAX", 3),
		APIRateLimit: getIntEnv("API_RATE_LIMIT", 100), // req/s, Battle.net hard cap
		IdleInterval: getDurationEnv("IDLE_INTERVAL", 20*time.Second),

		ShowBidPrices:   getBoolEnv("SHOW_BID_PRICES", false),
		NoLinks:         getBoolEnv("NO_LINKS", false),
		NoRussianRealms: getBoolEnv("NO_RUSSIAN_REALMS", true),
		RefreshAlerts:   getBoolEnv("REFRESH_ALERTS", true),
		Debug:           getBoolEnv("DEBUG", false),

		TokenPrice:        int64(getIntEnv("TOKEN_PRICE", 1)),
		DiscordWebhookURL: getEnv("MEGA_WEBHOOK_URL", ""),

		WowClientID:     getEnv("WOW_CLIENT_ID", ""),
		WowClientSecret: getEnv("WOW_CLIENT_SECRET", ""),

		DataDir: getEnv("DATA_DIR", "data"),

		RedisURL:         getEnv("REDIS_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		StatusAddr:       getEnv("STATUS_ADDR", ""),
		ControlJWTSecret: getEnv("CONTROL_JWT_SECRET", ""),
	}

	cfg.DesiredItemsFile = getEnv("DESIRED_ITEMS_FILE", filepath.Join(cfg.DataDir, "desired_items.json"))
	cfg.DesiredIlvlFile = getEnv("DESIRED_ILVL_FILE", filepath.Join(cfg.DataDir, "desired_ilvl_list.json"))
	cfg.DesiredPetsFile = getEnv("DESIRED_PETS_FILE", filepath.Join(cfg.DataDir, "desired_pets.json"))

	// WOWHEAD_LINK defaults on for classic, where undermine/saddlebag have no pages
	cfg.WowheadLink = getBoolEnv("WOWHEAD_LINK", cfg.IsClassic())

	extra, err := parseMinutes(os.Getenv("EXTRA_ALERTS"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXTRA_ALERTS: %w", err)
	}
	cfg.ExtraAlerts = extra

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BotConfig configures the Discord control bot.
type BotConfig struct {
	BotToken         string
	AppID            string
	GuildID          string
	ControlURL       string
	ControlJWTSecret string
	PresenceInterval time.Duration
}

// LoadBot reads the Discord bot configuration from the environment.
func LoadBot() (*BotConfig, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	cfg := &BotConfig{
		BotToken:         getEnv("DISCORD_BOT_TOKEN", ""),
		AppID:            getEnv("DISCORD_CLIENT_ID", ""),
		GuildID:          getEnv("DISCORD_GUILD_ID", ""),
		ControlURL:       getEnv("SNIPER_CONTROL_URL", "http://localhost:8090"),
		ControlJWTSecret: getEnv("CONTROL_JWT_SECRET", ""),
		PresenceInterval: getDurationEnv("BOT_PRESENCE_INTERVAL", time.Minute),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("DISCORD_CLIENT_ID is required")
	}
	return cfg, nil
}

// Validate checks the region and fills defaults that depend on it.
func (c *Config) Validate() error {
	if !validRegions[c.Region] {
		return fmt.Errorf("invalid region %q", c.Region)
	}
	if c.Faction == "" {
		c.Faction = "all"
	}
	if !validFactions[c.Faction] {
		return fmt.Errorf("invalid faction %q", c.Faction)
	}
	if c.ThreadCount < 1 {
		c.ThreadCount = 1
	}
	if c.ScanTimeMax < c.ScanTimeMin {
		return fmt.Errorf("SCAN_TIME_MAX (%d) is below SCAN_TIME_MIN (%d)", c.ScanTimeMax, c.ScanTimeMin)
	}
	if c.ExtraAlerts == nil {
		c.ExtraAlerts = make(map[int]bool)
	}
	return nil
}

// IsClassic reports whether the region is any classic flavour.
func (c *Config) IsClassic() bool {
	return strings.Contains(c.Region, "CLASSIC")
}

// APIRegion returns the lower-case Battle.net host region ("us" or "eu").
func (c *Config) APIRegion() string {
	if strings.HasPrefix(c.Region, "EU") {
		return "eu"
	}
	return "us"
}

// parseMinutes accepts either a JSON list ("[25, 40]") or a comma separated list.
func parseMinutes(raw string) (map[int]bool, error) {
	out := make(map[int]bool)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	var minutes []int
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &minutes); err != nil {
			return nil, err
		}
	} else {
		for _, part := range splitAndTrim(raw, ",") {
			m, err := strconv.Atoi(part)
			if err != nil {
				return nil, err
			}
			minutes = append(minutes, m)
		}
	}

	for _, m := range minutes {
		if m < 0 || m > 59 {
			return nil, fmt.Errorf("minute %d out of range", m)
		}
		out[m] = true
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
