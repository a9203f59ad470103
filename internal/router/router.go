// Package router turns chat commands into conversation API requests.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/jarvis/internal/backend"
	"github.com/Veraticus/jarvis/internal/chat"
	"github.com/Veraticus/jarvis/internal/conversation"
)

const (
	// DefaultPrefix marks a chat message as a command for the backend.
	DefaultPrefix = "!"

	// DefaultAgentID is the conversation agent used when none is configured.
	DefaultAgentID = "ollama"
)

// SpeakerResolver maps chat users to backend speakers.
type SpeakerResolver interface {
	Resolve(chatUserID string) (string, bool)
}

// Router handles one chat message at a time: filter, forward, reply.
type Router struct {
	backend   backend.Backend
	messenger chat.Messenger
	session   conversation.SessionTracker
	resolver  SpeakerResolver
	typing    *chat.TypingIndicator
	logger    *slog.Logger
	agentID   string
	prefix    string
	channelID string
}

// Option is a functional option for configuring a Router.
type Option func(*Router) error

// WithAgentID sets the conversation agent requests are addressed to.
func WithAgentID(agentID string) Option {
	return func(r *Router) error {
		if agentID == "" {
			return fmt.Errorf("invalid option: agent ID cannot be empty")
		}
		r.agentID = agentID
		return nil
	}
}

// WithPrefix sets the command prefix.
func WithPrefix(prefix string) Option {
	return func(r *Router) error {
		if prefix == "" {
			return fmt.Errorf("invalid option: command prefix cannot be empty")
		}
		r.prefix = prefix
		return nil
	}
}

// WithChannel restricts handling to a single channel. Empty allows all channels.
func WithChannel(channelID string) Option {
	return func(r *Router) error {
		r.channelID = channelID
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		if logger == nil {
			return fmt.Errorf("invalid option: logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// WithTyping sets the typing indicator shown while waiting for the backend.
func WithTyping(typing *chat.TypingIndicator) Option {
	return func(r *Router) error {
		if typing == nil {
			return fmt.Errorf("invalid option: typing indicator cannot be nil")
		}
		r.typing = typing
		return nil
	}
}

// New creates a router. All collaborators are required.
func New(
	be backend.Backend,
	messenger chat.Messenger,
	session conversation.SessionTracker,
	resolver SpeakerResolver,
	opts ...Option,
) (*Router, error) {
	switch {
	case be == nil:
		return nil, fmt.Errorf("router creation failed: backend is required")
	case messenger == nil:
		return nil, fmt.Errorf("router creation failed: messenger is required")
	case session == nil:
		return nil, fmt.Errorf("router creation failed: session is required")
	case resolver == nil:
		return nil, fmt.Errorf("router creation failed: resolver is required")
	}

	r := &Router{
		backend:   be,
		messenger: messenger,
		session:   session,
		resolver:  resolver,
		logger:    slog.Default(),
		agentID:   DefaultAgentID,
		prefix:    DefaultPrefix,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if r.typing == nil {
		r.typing = chat.NewTypingIndicator(messenger, chat.WithTypingLogger(r.logger))
	}

	return r, nil
}

// Handle processes a chat message. Messages that are not commands for this
// bot are ignored. Backend failures are reported to the channel as a reply;
// only a failure to deliver the reply is returned.
func (r *Router) Handle(ctx context.Context, msg chat.IncomingMessage) error {
	text, ok := r.command(msg)
	if !ok {
		return nil
	}

	logger := r.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("message_id", msg.ID),
		slog.String("author_id", msg.AuthorID),
		slog.String("channel_id", msg.ChannelID),
	)

	// TouchNow returns before the backend call so the session is never held
	// across network I/O.
	conversationID := r.session.TouchNow()

	req := backend.Request{
		Text:           text,
		AgentID:        r.agentID,
		ConversationID: conversationID,
	}

	speaker, mapped := r.resolver.Resolve(msg.AuthorID)
	if mapped {
		req.Speaker = &backend.Speaker{ID: speaker}
	}

	logger.DebugContext(ctx, "forwarding command",
		slog.String("conversation_id", conversationID),
		slog.Bool("speaker_mapped", mapped),
		slog.Int("text_length", len(text)))

	stopTyping := r.typing.Start(ctx, msg.ChannelID)
	defer stopTyping()
	reply := r.ask(ctx, logger, req)
	stopTyping()

	if mapped {
		reply = msg.AuthorName + ", " + reply
	}

	if err := r.messenger.Send(ctx, msg.ChannelID, reply); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	return nil
}

// Accepts reports whether msg is a command for this bot. The chat handler
// uses it to keep other traffic out of the queue and the rate limiter.
func (r *Router) Accepts(msg chat.IncomingMessage) bool {
	_, ok := r.command(msg)
	return ok
}

// command returns the command text if msg should be forwarded.
func (r *Router) command(msg chat.IncomingMessage) (string, bool) {
	if self := r.messenger.SelfID(); self != "" && msg.AuthorID == self {
		return "", false
	}
	if r.channelID != "" && msg.ChannelID != r.channelID {
		return "", false
	}
	if !strings.HasPrefix(msg.Text, r.prefix) {
		return "", false
	}

	text := strings.TrimSpace(strings.TrimPrefix(msg.Text, r.prefix))
	if text == "" {
		return "", false
	}

	return text, true
}

// ask sends req and always produces reply text.
func (r *Router) ask(ctx context.Context, logger *slog.Logger, req backend.Request) string {
	reply, err := r.backend.Send(ctx, req)
	if err != nil {
		logger.WarnContext(ctx, "backend request failed", slog.Any("error", err))
		return backend.ErrorReply(err).Text
	}
	if reply == nil || reply.Text == "" {
		return backend.NoResponseText
	}

	return reply.Text
}
