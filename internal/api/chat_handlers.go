package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/colmb/taskchat/internal/agent"
	"github.com/colmb/taskchat/internal/auth"
	"github.com/colmb/taskchat/internal/store"
)

// conversationTitleLen is how much of the first message becomes the
// conversation title.
const conversationTitleLen = 50

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	// A supplied conversation id must reference the caller's own
	// conversation. A fresh conversation is only created after the agent
	// run succeeds, so a model outage leaves nothing behind.
	var conv *store.Conversation
	var history []agent.Turn
	if req.ConversationID != "" {
		var err error
		conv, err = s.store.GetConversation(r.Context(), userID, req.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		if err != nil {
			s.logger.Error("load conversation failed", "user", userID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
			return
		}

		msgs, err := s.store.History(r.Context(), conv.ID, s.historyWindow)
		if err != nil {
			s.logger.Error("load history failed", "conversation", conv.ID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
			return
		}
		history = make([]agent.Turn, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, agent.Turn{Role: m.Role, Content: m.Content})
		}
	}

	result, err := s.loop.Run(r.Context(), userID, message, history)
	if err != nil {
		s.logger.Error("agent run failed", "user", userID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please try again.")
		return
	}

	if conv == nil {
		title := message
		if runes := []rune(title); len(runes) > conversationTitleLen {
			title = string(runes[:conversationTitleLen])
		}
		conv, err = s.store.CreateConversation(r.Context(), userID, title)
		if err != nil {
			s.logger.Error("create conversation failed", "user", userID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to save conversation")
			return
		}
	}

	records := make([]store.ToolRecord, 0, len(result.ToolCalls))
	for _, tc := range result.ToolCalls {
		records = append(records, store.ToolRecord{Name: tc.Name, Args: tc.Args, Result: tc.Result})
	}
	if err := s.store.AppendExchange(r.Context(), conv.ID, message, records, result.Reply); err != nil {
		s.logger.Error("persist exchange failed", "conversation", conv.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		Response:       result.Reply,
		ConversationID: conv.ID,
	})
}

type recentConversationResponse struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []store.Message     `json:"messages"`
}

func (s *Server) handleRecentConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	conv, err := s.store.MostRecentConversation(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.logger.Error("recent conversation lookup failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	messages, err := s.store.FullHistory(r.Context(), conv.ID)
	if err != nil {
		s.logger.Error("load full history failed", "conversation", conv.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	s.writeJSON(w, http.StatusOK, recentConversationResponse{
		Conversation: conv,
		Messages:     messages,
	})
}
