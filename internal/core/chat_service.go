package core

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

const (
	SubjectChatCompleted = "ragchat.chat.completed"
	SubjectChatFailed    = "ragchat.chat.failed"

	historyLimit   = 100
	titleMaxLength = 60
)

// Responder answers a single chat message.
type Responder interface {
	Handle(ctx context.Context, message string) (string, error)
}

// HistoryStore persists conversations. GetConversation returns nil, nil when the
// conversation does not exist.
type HistoryStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AppendExchange(ctx context.Context, conv Conversation, user, assistant ChatMessage) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error)
}

// Publisher emits chat lifecycle events.
type Publisher interface {
	Publish(subject string, data any) error
}

// ChatEvent is published after every chat request. Message and Reply are only set on
// completed events; State and Kind only on failed ones.
type ChatEvent struct {
	ConversationID string    `json:"conversationId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	State          string    `json:"state,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Message        string    `json:"message,omitempty"`
	Reply          string    `json:"reply,omitempty"`
	ReplyLength    int       `json:"replyLength,omitempty"`
	DurationMS     int64     `json:"durationMs"`
	Timestamp      time.Time `json:"timestamp"`
}

type ChatService struct {
	responder Responder
	history   HistoryStore
	publisher Publisher
	logger    *slog.Logger
}

// NewChatService wires the pipeline to optional history and event publishing. history and
// publisher may be nil.
func NewChatService(responder Responder, history HistoryStore, publisher Publisher, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		responder: responder,
		history:   history,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *ChatService) HistoryEnabled() bool {
	return s.history != nil
}

// Chat runs the pipeline for one message. The reply is returned even if recording the
// exchange or publishing the event fails.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (string, error) {
	start := time.Now()

	reply, err := s.responder.Handle(ctx, req.Message)

	event := ChatEvent{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		DurationMS:     time.Since(start).Milliseconds(),
		Timestamp:      time.Now().UTC(),
	}
	if err != nil {
		event.Kind = KindOf(err).Error()
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			event.State = stepErr.State.String()
		}
		s.publish(SubjectChatFailed, event)
		return "", err
	}

	event.Message = req.Message
	event.Reply = reply
	event.ReplyLength = utf8.RuneCountInString(reply)
	s.publish(SubjectChatCompleted, event)

	if s.history != nil && req.ConversationID != "" {
		if err := s.record(ctx, req, reply); err != nil {
			s.logger.Warn("failed to record chat exchange",
				"conversation_id", req.ConversationID,
				"error", err,
			)
		}
	}

	return reply, nil
}

func (s *ChatService) record(ctx context.Context, req ChatRequest, reply string) error {
	conv, err := s.history.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return errors.Wrap(err, "load conversation")
	}
	if conv == nil {
		conv = &Conversation{
			ID:        req.ConversationID,
			UserID:    req.UserID,
			Title:     titleFrom(req.Message),
			CreatedAt: time.Now().UTC(),
		}
	} else if conv.UserID != "" && conv.UserID != req.UserID {
		return errors.Newf("conversation %s belongs to another user", req.ConversationID)
	}

	return s.history.AppendExchange(ctx, *conv,
		ChatMessage{Role: RoleUser, Content: req.Message},
		ChatMessage{Role: RoleAssistant, Content: reply},
	)
}

// History returns a conversation and its stored messages, oldest first. A conversation
// owned by another user is reported as not found.
func (s *ChatService) History(ctx context.Context, conversationID, userID string) (*Conversation, []StoredMessage, error) {
	if s.history == nil {
		return nil, nil, ErrHistoryDisabled
	}
	conv, err := s.history.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load conversation")
	}
	if conv == nil || (conv.UserID != "" && conv.UserID != userID) {
		return nil, nil, ErrConversationNotFound
	}
	msgs, err := s.history.ListMessages(ctx, conversationID, historyLimit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list messages")
	}
	return conv, msgs, nil
}

func (s *ChatService) publish(subject string, event ChatEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(subject, event); err != nil {
		s.logger.Warn("failed to publish chat event", "subject", subject, "error", err)
	}
}

// titleFrom derives a conversation title from its first message.
func titleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= titleMaxLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleMaxLength])) + "…"
}
