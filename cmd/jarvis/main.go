// Package main provides the entry point for the Jarvis Discord relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/jarvis/internal/backend"
	"github.com/Veraticus/jarvis/internal/chat"
	"github.com/Veraticus/jarvis/internal/config"
	"github.com/Veraticus/jarvis/internal/conversation"
	"github.com/Veraticus/jarvis/internal/identity"
	"github.com/Veraticus/jarvis/internal/queue"
	"github.com/Veraticus/jarvis/internal/router"
	"github.com/Veraticus/jarvis/internal/status"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

func main() {
	os.Exit(runMain())
}

func runMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv(slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		return 1
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("jarvis stopped with error", slog.Any("error", err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("jarvis starting",
		slog.String("agent_id", cfg.HomeAssistant.AgentID),
		slog.String("command_prefix", cfg.Discord.CommandPrefix),
		slog.String("channel_id", cfg.Discord.ChannelID),
		slog.Int("mapped_users", len(cfg.UserMapping)))

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.messenger.Close(); closeErr != nil {
			logger.Warn("failed to close discord connection", slog.Any("error", closeErr))
		}
	}()

	return startComponents(ctx, c, logger)
}

// components holds all initialized components.
type components struct {
	messenger  *chat.DiscordMessenger
	session    *conversation.Session
	router     *router.Router
	dispatcher *queue.Dispatcher
	handler    *chat.Handler
	status     *status.Server
}

func initializeComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. Discord transport
	messenger, err := chat.NewDiscordMessenger(cfg.Discord.Token, chat.WithDiscordLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create discord messenger: %w", err)
	}

	// 2. Home Assistant client
	client, err := backend.NewClient(backend.Config{
		URL:     cfg.HomeAssistant.URL,
		Token:   cfg.HomeAssistant.Token,
		Timeout: cfg.HomeAssistant.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create home assistant client: %w", err)
	}

	// 3. Conversation state and speaker lookup
	session := conversation.NewSession(
		conversation.WithWindow(cfg.Session.Window),
		conversation.WithPrefix(cfg.Session.Prefix),
	)
	resolver := identity.NewResolver(cfg.UserMapping)

	// 4. Command routing
	opts := []router.Option{
		router.WithAgentID(cfg.HomeAssistant.AgentID),
		router.WithPrefix(cfg.Discord.CommandPrefix),
		router.WithLogger(logger),
	}
	if cfg.Discord.ChannelID != "" {
		opts = append(opts, router.WithChannel(cfg.Discord.ChannelID))
	}
	r, err := router.New(client, messenger, session, resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	// 5. Dispatch
	dispatchCfg := queue.Config{
		Handler:   r,
		Logger:    logger,
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}
	if limit := cfg.Dispatch.RateLimit; limit.Capacity > 0 {
		dispatchCfg.RateLimiter = queue.NewRateLimiter(limit.Capacity, limit.Capacity, limit.Period)
	}
	dispatcher, err := queue.NewDispatcher(dispatchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// 6. Chat handler feeding the dispatcher; only commands are queued
	handler, err := chat.NewHandler(messenger, dispatcher,
		chat.WithFilter(r),
		chat.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat handler: %w", err)
	}

	c := &components{
		messenger:  messenger,
		session:    session,
		router:     r,
		dispatcher: dispatcher,
		handler:    handler,
	}

	// 7. Optional status server
	if cfg.Status.Addr != "" {
		c.status, err = status.NewServer(cfg.Status.Addr, session,
			status.WithStats(dispatcher),
			status.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create status server: %w", err)
		}
	}

	return c, nil
}

// startComponents runs every component until ctx is canceled or one of them
// fails, then waits up to ShutdownTimeout for the rest to stop.
func startComponents(ctx context.Context, c *components, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.dispatcher.Start(gctx)
	})
	g.Go(func() error {
		return c.handler.Start(gctx)
	})
	if c.status != nil {
		g.Go(func() error {
			return c.status.Start(gctx)
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}

	logger.Info("shutting down components")

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case <-time.After(ShutdownTimeout):
		return fmt.Errorf("shutdown timeout exceeded after %s", ShutdownTimeout)
	}
}
