package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/john/chatspeaker/internal/config"
	"github.com/john/chatspeaker/internal/filter"
	"github.com/john/chatspeaker/internal/handler"
	"github.com/john/chatspeaker/internal/health"
	"github.com/john/chatspeaker/internal/kick"
	"github.com/john/chatspeaker/internal/message"
	"github.com/john/chatspeaker/internal/speech"
	"github.com/john/chatspeaker/internal/tiktok"
	"github.com/john/chatspeaker/internal/twitch"
	"github.com/john/chatspeaker/internal/youtube"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	log.Info("chatspeaker starting")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Speech backend and delivery queue.
	var backend speech.Backend
	if cfg.Speech.Command != "" {
		backend, err = speech.NewExecBackend(cfg.Speech.Command)
		if err != nil {
			log.Error("invalid speech command", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		log.Warn("no speech command configured, messages will be logged but not spoken")
		backend = speech.NewLogBackend(log)
	}
	queue := speech.NewQueue(backend, cfg.Speech.QueueSize, log)

	// Filtering and formatting sit between the adapters and the queue.
	msgFilter := filter.New(filter.Config{
		MinLength:      cfg.Filters.MinLength,
		MaxLength:      cfg.Filters.MaxLength,
		IgnoreCommands: cfg.Filters.IgnoreCommands,
		IgnoreLinks:    cfg.Filters.IgnoreLinks,
		BlockedUsers:   cfg.Filters.BlockedUsers,
		BlockedWords:   cfg.Filters.BlockedWords,
	})
	formatter := &filter.Formatter{
		AnnouncePlatform: cfg.Speech.AnnouncePlatform,
		AnnounceUsername: cfg.Speech.AnnounceUsername,
	}

	onMessage := func(msg message.ChatMessage) error {
		log.Info("chat message",
			slog.String("platform", string(msg.Platform)),
			slog.String("username", msg.Username),
			slog.String("text", msg.Text))
		if !msgFilter.Allow(msg) {
			return nil
		}
		queue.Add(speech.NewItem(formatter.Render(msg), string(msg.Platform)))
		return nil
	}

	handlers := buildHandlers(ctx, cfg, log)
	if len(handlers) == 0 {
		log.Error("no chat platforms could be configured")
		os.Exit(1)
	}

	if err := queue.Start(ctx); err != nil {
		log.Error("failed to start speech queue", slog.Any("error", err))
		os.Exit(1)
	}
	started := 0
	for _, h := range handlers {
		h.SetCallback(onMessage)
		if err := h.Start(ctx); err != nil {
			log.Error("platform failed to start",
				slog.String("platform", string(h.Platform())), slog.Any("error", err))
			continue
		}
		started++
	}
	if started == 0 {
		log.Error("no platform connected")
		queue.Stop()
		os.Exit(1)
	}

	healthServer := health.New(cfg.Health.Addr, func() health.Status {
		st := health.Status{Adapters: make(map[string]string, len(handlers))}
		for _, h := range handlers {
			st.Adapters[string(h.Platform())] = h.State().String()
		}
		st.QueueDepth = queue.Pending()
		return st
	})
	go func() {
		if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("health server error", slog.Any("error", err))
		}
	}()

	log.Info("all components started", slog.Int("platforms", started))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down health server", slog.Any("error", err))
	}
	for _, h := range handlers {
		h.Stop()
	}
	queue.Stop()
	cancel()

	log.Info("chatspeaker stopped")
}

// buildHandlers constructs an adapter per enabled platform. A platform that
// cannot be configured is skipped with a log line rather than aborting the
// others.
func buildHandlers(ctx context.Context, cfg *config.Config, log *slog.Logger) []handler.Handler {
	var handlers []handler.Handler

	if cfg.YouTube.Enabled {
		videoID := ""
		if cfg.YouTube.VideoID != "" {
			if id, ok := youtube.ExtractVideoID(cfg.YouTube.VideoID); ok {
				videoID = id
			} else {
				log.Warn("invalid youtube video id", slog.String("video_id", cfg.YouTube.VideoID))
			}
		}
		if videoID == "" && cfg.YouTube.Channel != "" {
			id, err := youtube.ResolveLiveVideoID(ctx, cfg.YouTube.Channel)
			if err != nil {
				log.Warn("no live stream found for youtube channel",
					slog.String("channel", cfg.YouTube.Channel), slog.Any("error", err))
			} else {
				log.Info("resolved live stream", slog.String("video_id", id))
				videoID = id
			}
		}
		if videoID != "" {
			handlers = append(handlers, youtube.New(videoID, log))
		}
	}

	if cfg.Kick.Enabled {
		handlers = append(handlers, kick.New(cfg.Kick.Channel, cfg.Kick.ChatroomID, log))
	}

	if cfg.TikTok.Enabled {
		a, err := tiktok.New(cfg.TikTok.Username, cfg.TikTok.WorkerCommand, log)
		if err != nil {
			log.Warn("tiktok adapter misconfigured", slog.Any("error", err))
		} else {
			handlers = append(handlers, a)
		}
	}

	if cfg.Twitch.Enabled {
		handlers = append(handlers, twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channels, log))
	}

	return handlers
}
