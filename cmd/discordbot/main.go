package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/discordbot"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load bot configuration")
	}

	bot := discordbot.NewBotHandler(cfg.ControlURL, cfg.ControlJWTSecret)

	// The sniper may start later; the presence loop picks it up when it does
	if status, err := bot.FetchStatus(); err != nil {
		log.Warn().Err(err).Str("control_url", cfg.ControlURL).Msg("Sniper control server not reachable yet")
	} else {
		log.Info().
			Str("region", status.Region).
			Str("state", string(status.State)).
			Int("tracked_sources", status.Timers).
			Msg("Connected to sniper")
	}
	if cfg.ControlJWTSecret == "" {
		log.Warn().Msg("CONTROL_JWT_SECRET not set, /sniper_stop only works against an unprotected control server")
	}

	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord session")
	}
	bot.RegisterHandlers(dg)

	if err := dg.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open Discord connection")
	}
	defer dg.Close()

	registered, err := bot.RegisterCommands(dg, cfg.AppID, cfg.GuildID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register slash commands")
	}
	log.Info().Int("commands", len(registered)).Str("guild", cfg.GuildID).Msg("Slash commands registered")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bot.WatchPresence(ctx, dg, cfg.PresenceInterval)

	log.Info().Msg("Bot running, press CTRL-C to exit")
	<-ctx.Done()

	// Guild commands would otherwise linger after the bot is gone
	if cfg.GuildID != "" {
		for _, cmd := range registered {
			if err := dg.ApplicationCommandDelete(cfg.AppID, cfg.GuildID, cmd.ID); err != nil {
				log.Warn().Err(err).Str("command", cmd.Name).Msg("Failed to remove command")
			}
		}
	}
	log.Info().Msg("Bot stopped")
}
