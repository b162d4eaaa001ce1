package discordbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/akagifreeez/azeroth-sniper/internal/handlers"
	"github.com/akagifreeez/azeroth-sniper/internal/workers"
)

// BotHandler answers slash commands by querying a running sniper's control server
type BotHandler struct {
	controlURL string
	jwtSecret  string
	httpClient *http.Client
}

func NewBotHandler(controlURL, jwtSecret string) *BotHandler {
	return &BotHandler{
		controlURL: strings.TrimRight(controlURL, "/"),
		jwtSecret:  jwtSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "sniper_status",
		Description: "Show the sniper's state, tracked realms and last scan",
	},
	{
		Name:        "sniper_stop",
		Description: "Stop the running sniper",
	},
	{
		Name:        "help",
		Description: "Display help information about Azeroth Sniper",
	},
}

func (h *BotHandler) RegisterHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		switch i.ApplicationCommandData().Name {
		case "sniper_status":
			h.handleStatus(s, i)
		case "sniper_stop":
			h.handleStop(s, i)
		case "help":
			h.handleHelp(s, i)
		}
	})
}

func (h *BotHandler) RegisterCommands(s *discordgo.Session, appID, guildID string) ([]*discordgo.ApplicationCommand, error) {
	registeredCommands := make([]*discordgo.ApplicationCommand, len(commands))
	var err error
	for idx, cmd := range commands {
		registeredCommands[idx], err = s.ApplicationCommandCreate(appID, guildID, cmd)
		if err != nil {
			return nil, fmt.Errorf("cannot create '%v' command: %w", cmd.Name, err)
		}
	}
	return registeredCommands, nil
}

// FetchStatus reads /status from the control server
func (h *BotHandler) FetchStatus() (*workers.Status, error) {
	resp, err := h.httpClient.Get(h.controlURL + "/status")
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request returned %d", resp.StatusCode)
	}

	var status workers.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

// RequestStop posts to /stop, signing a short-lived token when a secret is configured
func (h *BotHandler) RequestStop(operator string) error {
	req, err := http.NewRequest(http.MethodPost, h.controlURL+"/stop", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if h.jwtSecret != "" {
		token, err := handlers.IssueToken(h.jwtSecret, operator, time.Minute)
		if err != nil {
			return fmt.Errorf("failed to sign control token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("stop request returned %d", resp.StatusCode)
	}
	return nil
}

// StatusEmbed renders a status snapshot
func StatusEmbed(status *workers.Status) *discordgo.MessageEmbed {
	p := message.NewPrinter(language.English)

	next := "None known"
	if len(status.NextUpdates) > 0 {
		parts := make([]string, len(status.NextUpdates))
		for i, m := range status.NextUpdates {
			parts[i] = fmt.Sprintf(":%02d", m)
		}
		next = strings.Join(parts, ", ")
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Azeroth Sniper (%s)", status.Region),
		Color: 0x0099ff,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "State", Value: string(status.State), Inline: true},
			{Name: "Tracked Sources", Value: p.Sprintf("%d", status.Timers), Inline: true},
			{Name: "Alerts This Hour", Value: p.Sprintf("%d", status.LedgerSize), Inline: true},
			{Name: "Next Uploads", Value: next, Inline: false},
		},
	}

	if last := status.LastScan; last.RunID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Last Scan",
			Value: p.Sprintf("%d/%d sources ok, %d matches, %d alerts in %s",
				last.Succeeded, last.Sources, last.Matches, last.Alerts, last.Elapsed.Round(time.Millisecond)),
		})
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Scan started: %s", last.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
		}
	}
	return embed
}

func (h *BotHandler) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Acknowledge the interaction immediately to avoid timeout
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	status, err := h.FetchStatus()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch sniper status")
		s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
			Content: func() *string { str := "Sniper is not reachable."; return &str }(),
		})
		return
	}

	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{StatusEmbed(status)},
	})
}

func (h *BotHandler) handleStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	operator := "discord"
	if i.Member != nil && i.Member.User != nil {
		operator = i.Member.User.Username
	} else if i.User != nil {
		operator = i.User.Username
	}

	content := "Stop signal sent. The sniper finishes in-flight fetches and exits."
	if err := h.RequestStop(operator); err != nil {
		log.Warn().Err(err).Str("operator", operator).Msg("Stop request failed")
		content = "Failed to stop the sniper."
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (h *BotHandler) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := &discordgo.MessageEmbed{
		Title:       "Azeroth Sniper Help",
		Description: "Controls a running auction-house sniper.",
		Color:       0x00ff00,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "/sniper_status", Value: "Current state, tracked sources, next upload minutes and the last scan."},
			{Name: "/sniper_stop", Value: "Stop the sniper after in-flight fetches finish."},
		},
	}
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

// PresenceUpdater is the slice of a discordgo session used for the bot's status line
type PresenceUpdater interface {
	UpdateWatchStatus(idle int, name string) error
}

// PresenceText is the one-line summary shown as the bot's activity
func PresenceText(status *workers.Status) string {
	if status == nil {
		return "sniper offline"
	}
	text := fmt.Sprintf("%s auctions (%s)", status.Region, status.State)
	if len(status.NextUpdates) > 0 {
		text += fmt.Sprintf(", next :%02d", status.NextUpdates[0])
	}
	return text
}

// WatchPresence mirrors the sniper's state into the bot presence until ctx is done
func (h *BotHandler) WatchPresence(ctx context.Context, s PresenceUpdater, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		status, err := h.FetchStatus()
		if err != nil {
			log.Debug().Err(err).Msg("Sniper status unavailable")
			status = nil
		}
		if text := PresenceText(status); text != last {
			if err := s.UpdateWatchStatus(0, text); err != nil {
				log.Warn().Err(err).Msg("Failed to update bot presence")
			} else {
				last = text
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
