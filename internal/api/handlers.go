package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/phucgpt/ragchat/internal/core"
)

const (
	maxRequestBytes = 1 << 20

	msgMessageRequired      = "Message is required"
	msgPipelineFailure      = "OpenAI or DB request failed"
	msgConversationNotFound = "Conversation not found"
	msgHistoryDisabled      = "Chat history is disabled"
	msgInvalidToken         = "Invalid token"
	msgMissingToken         = "Authorization header is required"
)

// ChatService is what the handlers need from the chat layer.
type ChatService interface {
	Chat(ctx context.Context, req core.ChatRequest) (string, error)
	History(ctx context.Context, conversationID, userID string) (*core.Conversation, []core.StoredMessage, error)
	HistoryEnabled() bool
}

// TokenValidator returns the user ID carried by a bearer token.
type TokenValidator interface {
	ValidateJWT(token string) (string, error)
}

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext returns the authenticated user ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

type APIHandler struct {
	chatService ChatService
	validator   TokenValidator
	logger      *slog.Logger
}

// NewAPIHandler builds the handlers. validator may be nil, in which case no token is
// required and the userId from the request is trusted.
func NewAPIHandler(cs ChatService, validator TokenValidator, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{chatService: cs, validator: validator, logger: logger}
}

// JWTAuthMiddleware requires a bearer token when a validator is configured and puts
// its subject into the request context.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.validator == nil {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, msgMissingToken)
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}
		userID, err := h.validator.ValidateJWT(strings.TrimSpace(tokenString))
		if err != nil {
			h.logger.Debug("rejected bearer token", "error", err)
			writeError(w, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ChatRequestBody struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type HistoryResponse struct {
	ConversationID string               `json:"conversationId"`
	Title          string               `json:"title"`
	Messages       []core.StoredMessage `json:"messages"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var body ChatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Debug("invalid chat request body", "error", err)
		writeError(w, http.StatusBadRequest, msgMessageRequired)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, msgMessageRequired)
		return
	}

	req := core.ChatRequest{
		Message:        body.Message,
		ConversationID: body.ConversationID,
		UserID:         body.UserID,
	}
	if userID, ok := UserIDFromContext(r.Context()); ok {
		req.UserID = userID
	}

	reply, err := h.chatService.Chat(r.Context(), req)
	if err != nil {
		if core.IsClientError(err) {
			writeError(w, http.StatusBadRequest, msgMessageRequired)
			return
		}
		h.logger.Error("chat request failed",
			"conversation_id", req.ConversationID,
			"kind", core.KindOf(err).Error(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, msgPipelineFailure)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Reply: reply})
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !h.chatService.HistoryEnabled() {
		writeError(w, http.StatusServiceUnavailable, msgHistoryDisabled)
		return
	}

	conversationID := chi.URLParam(r, "conversationId")
	userID, _ := UserIDFromContext(r.Context())
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}

	conv, messages, err := h.chatService.History(r.Context(), conversationID, userID)
	if err != nil {
		if errors.Is(err, core.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, msgConversationNotFound)
			return
		}
		h.logger.Error("failed to load history", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, msgPipelineFailure)
		return
	}
	if messages == nil {
		messages = []core.StoredMessage{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Messages:       messages,
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
