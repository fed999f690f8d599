package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/api/response"
	"github.com/kiranshivaraju/scenarist/internal/prompts"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

type chatRequest struct {
	Messages []models.ChatMessage  `json:"messages"`
	Sources  []models.ContextEntry `json:"sources"`
}

type chatChunk struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

var chatRoles = map[string]bool{"user": true, "assistant": true, "system": true}

// NewChatHandler returns an http.HandlerFunc for POST /api/v1/chat. The reply
// is streamed as server-sent events: one data line per chunk, then [DONE].
func NewChatHandler(provider models.CompletionProvider, model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !response.Decode(w, r, &req) {
			return
		}
		if len(req.Messages) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "messages is required", nil)
			return
		}

		msgs := make([]models.Message, 0, len(req.Messages)+1)
		msgs = append(msgs, models.TextMessage("system", prompts.ChatSystem(prompts.FormatEntries(req.Sources))))
		for _, m := range req.Messages {
			if !chatRoles[m.Role] {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown message role", map[string]string{"role": m.Role})
				return
			}
			msgs = append(msgs, models.TextMessage(m.Role, m.Content))
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server's write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		started := false
		send := func(v any) error {
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return err
			}
			return rc.Flush()
		}

		err := provider.Stream(r.Context(), models.CompletionRequest{Model: model, Messages: msgs}, func(chunk string) error {
			if !started {
				startEventStream(w)
				started = true
			}
			return send(chatChunk{Content: chunk})
		})

		if err != nil {
			if r.Context().Err() != nil {
				slog.Info("chat stream closed by client")
				return
			}
			slog.Error("chat stream failed", "model", model, "started", started, "error", err)
			if !started {
				response.Error(w, http.StatusBadGateway, "AI_PROVIDER_ERROR", "The AI provider failed to respond", nil)
				return
			}
			_ = send(chatChunk{Error: "stream interrupted"})
			return
		}

		if !started {
			startEventStream(w)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		_ = rc.Flush()
	}
}

func startEventStream(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// NewListChatMessagesHandler returns an http.HandlerFunc for GET /api/v1/chat-messages.
func NewListChatMessagesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := st.ListChatMessages(r.Context())
		if err != nil {
			slog.Error("failed to list chat messages", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list chat messages", nil)
			return
		}
		response.JSON(w, msgs)
	}
}

// NewCreateChatMessageHandler returns an http.HandlerFunc for POST /api/v1/chat-messages.
func NewCreateChatMessageHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg models.ChatMessage
		if !response.Decode(w, r, &msg) {
			return
		}
		if !chatRoles[msg.Role] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "role must be user, assistant or system", nil)
			return
		}
		if strings.TrimSpace(msg.Content) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required", nil)
			return
		}

		if msg.ID == nil {
			id := uuid.New()
			msg.ID = &id
		}
		if msg.Timestamp == nil {
			now := time.Now().UTC()
			msg.Timestamp = &now
		}

		if err := st.CreateChatMessage(r.Context(), &msg); err != nil {
			slog.Error("failed to save chat message", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save chat message", nil)
			return
		}
		response.Created(w, msg)
	}
}

// NewClearChatMessagesHandler returns an http.HandlerFunc for DELETE /api/v1/chat-messages.
func NewClearChatMessagesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.ClearChatMessages(r.Context()); err != nil {
			slog.Error("failed to clear chat messages", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to clear chat messages", nil)
			return
		}
		response.NoContent(w)
	}
}
