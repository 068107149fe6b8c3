package handlers

import (
	"net/http"

	"github.com/vocagent/vocagent/api/auth"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/store"
)

type HistoryHandler struct {
	store *store.Store
	svc   *auth.Service
}

func NewHistoryHandler(s *store.Store, svc *auth.Service) *HistoryHandler {
	return &HistoryHandler{store: s, svc: svc}
}

type historyRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Count    int    `json:"count"`
	EndIndex int    `json:"end_index"`
}

type historyItem struct {
	UUID      string `json:"uuid"`
	Content   string `json:"content"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

type historyResponse struct {
	History    []historyItem `json:"history"`
	StartIndex int           `json:"start_index"`
}

// History returns the slice [max(0, end-count), end) of the user's log in
// chronological order. end_index of -1, or anything past the total, means
// "from most recent". Image entries surface the client-side path so the app
// can render its local copy.
func (h *HistoryHandler) History(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeBody(r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if req.Count <= 0 {
		respondDomainError(w, r, domain.ErrInvalidInput)
		return
	}
	userID, err := h.svc.Check(r.Context(), req.Username, req.Token)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	total, err := h.store.CountConversations(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	end := req.EndIndex
	if end < 0 || end > total {
		end = total
	}
	start := end - req.Count
	if start < 0 {
		start = 0
	}

	entries, err := h.store.ListConversations(r.Context(), userID, start, end-start)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		content := e.Content
		if e.Type == domain.ContentImage {
			if p, ok := e.AuxData["client_path"].(string); ok {
				content = p
			}
		}
		items = append(items, historyItem{
			UUID:      e.UUID,
			Content:   content,
			Source:    string(e.Source),
			Timestamp: domain.FormatTimestamp(e.Timestamp),
			Type:      string(e.Type),
		})
	}
	respondJSON(w, historyResponse{History: items, StartIndex: start}, http.StatusOK)
}
