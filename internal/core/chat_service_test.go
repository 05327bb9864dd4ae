package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResponder struct {
	reply string
	err   error
}

func (s stubResponder) Handle(context.Context, string) (string, error) {
	return s.reply, s.err
}

type memoryHistory struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]StoredMessage
	appendErr     error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{
		conversations: map[string]Conversation{},
		messages:      map[string][]StoredMessage{},
	}
}

func (m *memoryHistory) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (m *memoryHistory) AppendExchange(_ context.Context, conv Conversation, user, assistant ChatMessage) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = conv
	for _, msg := range []ChatMessage{user, assistant} {
		m.messages[conv.ID] = append(m.messages[conv.ID], StoredMessage{
			ConversationID: conv.ID,
			Role:           msg.Role,
			Content:        msg.Content,
		})
	}
	return nil
}

func (m *memoryHistory) ListMessages(_ context.Context, id string, limit int) ([]StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[id]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

type recordingPublisher struct {
	subjects []string
	events   []ChatEvent
	err      error
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.subjects = append(r.subjects, subject)
	if ev, ok := data.(ChatEvent); ok {
		r.events = append(r.events, ev)
	}
	return r.err
}

func TestChat_RecordsExchange(t *testing.T) {
	history := newMemoryHistory()
	pub := &recordingPublisher{}
	svc := NewChatService(stubResponder{reply: "Hello there!"}, history, pub, discardLogger())

	reply, err := svc.Chat(context.Background(), ChatRequest{Message: "Hi Phuc GPT", ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", reply)

	conv, msgs, err := svc.History(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Hi Phuc GPT", conv.Title)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Hi Phuc GPT", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there!", msgs[1].Content)

	assert.Equal(t, "Hi Phuc GPT", history.conversations["c1"].Title)
	assert.Equal(t, []string{SubjectChatCompleted}, pub.subjects)
	assert.Equal(t, len("Hello there!"), pub.events[0].ReplyLength)
	assert.Equal(t, "Hi Phuc GPT", pub.events[0].Message)
	assert.Equal(t, "Hello there!", pub.events[0].Reply)
	assert.Empty(t, pub.events[0].State)
}

func TestChat_NoConversationIDSkipsHistory(t *testing.T) {
	history := newMemoryHistory()
	svc := NewChatService(stubResponder{reply: "ok"}, history, nil, discardLogger())

	_, err := svc.Chat(context.Background(), ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Empty(t, history.conversations)
}

func TestChat_FailurePublishesKind(t *testing.T) {
	pub := &recordingPublisher{}
	history := newMemoryHistory()
	failure := &StepError{State: StateRetrieving, Kind: ErrRetrievalFailure, Err: errors.New("down")}
	svc := NewChatService(stubResponder{err: failure}, history, pub, discardLogger())

	reply, err := svc.Chat(context.Background(), ChatRequest{Message: "hello", ConversationID: "c1"})

	assert.Empty(t, reply)
	assert.True(t, errors.Is(err, ErrRetrievalFailure))
	assert.Equal(t, []string{SubjectChatFailed}, pub.subjects)
	assert.Equal(t, ErrRetrievalFailure.Error(), pub.events[0].Kind)
	assert.Equal(t, "retrieving", pub.events[0].State)
	assert.Empty(t, pub.events[0].Reply)
	assert.Empty(t, history.conversations)
}

func TestChat_SideEffectFailuresKeepReply(t *testing.T) {
	history := newMemoryHistory()
	history.appendErr = errors.New("disk full")
	pub := &recordingPublisher{err: errors.New("nats down")}
	svc := NewChatService(stubResponder{reply: "still here"}, history, pub, discardLogger())

	reply, err := svc.Chat(context.Background(), ChatRequest{Message: "hello", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "still here", reply)
}

func TestChat_ForeignConversationNotRecorded(t *testing.T) {
	history := newMemoryHistory()
	history.conversations["c1"] = Conversation{ID: "c1", UserID: "owner"}
	svc := NewChatService(stubResponder{reply: "ok"}, history, nil, discardLogger())

	_, err := svc.Chat(context.Background(), ChatRequest{Message: "hello", ConversationID: "c1", UserID: "intruder"})
	require.NoError(t, err)
	assert.Empty(t, history.messages["c1"])
}

func TestHistory_NotFound(t *testing.T) {
	history := newMemoryHistory()
	history.conversations["c1"] = Conversation{ID: "c1", UserID: "owner"}
	svc := NewChatService(stubResponder{}, history, nil, discardLogger())

	_, _, err := svc.History(context.Background(), "missing", "")
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	_, _, err = svc.History(context.Background(), "c1", "someone-else")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestHistory_ReturnsLatestMessages(t *testing.T) {
	history := newMemoryHistory()
	conv := Conversation{ID: "c1", UserID: "u1"}
	for i := 0; i <= 50; i++ {
		require.NoError(t, history.AppendExchange(context.Background(), conv,
			ChatMessage{Role: RoleUser, Content: fmt.Sprintf("q%d", i)},
			ChatMessage{Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		))
	}
	svc := NewChatService(stubResponder{}, history, nil, discardLogger())

	_, msgs, err := svc.History(context.Background(), "c1", "u1")
	require.NoError(t, err)
	require.Len(t, msgs, historyLimit)
	assert.Equal(t, "q1", msgs[0].Content)
	assert.Equal(t, "a50", msgs[len(msgs)-1].Content)
}

func TestHistory_Disabled(t *testing.T) {
	svc := NewChatService(stubResponder{}, nil, nil, discardLogger())

	assert.False(t, svc.HistoryEnabled())
	_, _, err := svc.History(context.Background(), "c1", "")
	assert.True(t, errors.Is(err, ErrHistoryDisabled))
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "What is Phuc's job?", titleFrom("  What is\nPhuc's   job?  "))

	long := "Tell me everything you know about the projects Phuc has worked on over the years"
	title := titleFrom(long)
	assert.True(t, len([]rune(title)) <= titleMaxLength+1)
	assert.Contains(t, title, "…")
}
