package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

const (
	// MaxMessageLength is the longest message Discord accepts.
	MaxMessageLength = 2000

	// DiscordIntents are the gateway intents needed to read commands.
	DiscordIntents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	truncationSuffix = "…"
)

// discordSession is the subset of *discordgo.Session the messenger uses.
type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// discordSubscription tracks an active message subscription.
type discordSubscription struct {
	ctx     context.Context
	outCh   chan IncomingMessage
	senders sync.WaitGroup
}

// DiscordMessenger implements Messenger on top of a Discord bot connection.
type DiscordMessenger struct {
	session      discordSession
	logger       *slog.Logger
	subscription *discordSubscription
	selfID       string
	mu           sync.Mutex
	opened       bool
}

// DiscordOption configures a DiscordMessenger.
type DiscordOption func(*DiscordMessenger)

// WithDiscordLogger sets the logger.
func WithDiscordLogger(logger *slog.Logger) DiscordOption {
	return func(d *DiscordMessenger) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDiscordMessenger creates a messenger authenticated with a bot token.
// The gateway connection is opened by the first call to Subscribe.
func NewDiscordMessenger(token string, opts ...DiscordOption) (*DiscordMessenger, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token cannot be empty")
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = DiscordIntents

	return newDiscordMessenger(s, opts...), nil
}

func newDiscordMessenger(s discordSession, opts ...DiscordOption) *DiscordMessenger {
	d := &DiscordMessenger{
		session: s,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	s.AddHandler(d.onReady)
	s.AddHandler(d.onMessageCreate)

	return d
}

// Send posts a message to a channel.
func (d *DiscordMessenger) Send(ctx context.Context, channelID string, message string) error {
	if channelID == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	if message == "" {
		return fmt.Errorf("message cannot be empty")
	}

	_, err := d.session.ChannelMessageSend(channelID, truncate(message, MaxMessageLength), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// SendTypingIndicator shows the bot as typing in a channel.
func (d *DiscordMessenger) SendTypingIndicator(ctx context.Context, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("channel cannot be empty")
	}

	if err := d.session.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send typing indicator: %w", err)
	}

	return nil
}

// Subscribe opens the gateway connection if needed and returns a channel of
// incoming messages. A new subscription replaces the previous one.
func (d *DiscordMessenger) Subscribe(ctx context.Context) (<-chan IncomingMessage, error) {
	d.mu.Lock()
	previous := d.subscription
	d.subscription = nil
	d.mu.Unlock()

	if previous != nil {
		previous.senders.Wait()
		close(previous.outCh)
	}

	d.mu.Lock()
	if !d.opened {
		if err := d.session.Open(); err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("failed to open discord connection: %w", err)
		}
		d.opened = true
	}

	sub := &discordSubscription{
		ctx:   ctx,
		outCh: make(chan IncomingMessage),
	}
	d.subscription = sub
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		if d.subscription != sub {
			d.mu.Unlock()
			return
		}
		d.subscription = nil
		d.mu.Unlock()

		sub.senders.Wait()
		close(sub.outCh)
	}()

	return sub.outCh, nil
}

// SelfID returns the bot's user ID once the gateway reported ready.
func (d *DiscordMessenger) SelfID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selfID
}

// Close shuts down the gateway connection.
func (d *DiscordMessenger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return nil
	}
	d.opened = false

	if err := d.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord connection: %w", err)
	}
	return nil
}

func (d *DiscordMessenger) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}

	d.mu.Lock()
	d.selfID = r.User.ID
	d.mu.Unlock()

	d.logger.Info("logged in to discord",
		slog.String("user", r.User.Username),
		slog.String("user_id", r.User.ID),
		slog.Int("guilds", len(r.Guilds)))
}

func (d *DiscordMessenger) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := convertMessage(m)
	if !ok {
		return
	}

	d.mu.Lock()
	sub := d.subscription
	if sub == nil {
		d.mu.Unlock()
		d.logger.Debug("dropping message without subscriber", slog.String("message_id", msg.ID))
		return
	}
	sub.senders.Add(1)
	d.mu.Unlock()
	defer sub.senders.Done()

	select {
	case sub.outCh <- msg:
	case <-sub.ctx.Done():
	}
}

// convertMessage converts a Discord event to an IncomingMessage.
func convertMessage(m *discordgo.MessageCreate) (IncomingMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return IncomingMessage{}, false
	}

	return IncomingMessage{
		ID:         m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m.Message),
		ChannelID:  m.ChannelID,
		Text:       m.Content,
		Timestamp:  m.Timestamp,
	}, true
}

// displayName returns the name the author is shown with in the channel.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-len([]rune(truncationSuffix))]) + truncationSuffix
}
