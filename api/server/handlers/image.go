package handlers

import (
	"net/http"

	"github.com/vocagent/vocagent/api/auth"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/store"
	"github.com/vocagent/vocagent/vision"
)

type ImageHandler struct {
	store  *store.Store
	images *vision.Service
	svc    *auth.Service
}

func NewImageHandler(s *store.Store, images *vision.Service, svc *auth.Service) *ImageHandler {
	return &ImageHandler{store: s, images: images, svc: svc}
}

type getImageRequest struct {
	Username  string `json:"username"`
	Token     string `json:"token"`
	ImageUUID string `json:"image_uuid"`
}

// GetImage streams the stored bytes of an image entry belonging to the
// requesting user.
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	var req getImageRequest
	if err := decodeBody(r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	userID, err := h.svc.Check(r.Context(), req.Username, req.Token)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	entry, err := h.store.GetConversation(r.Context(), userID, req.ImageUUID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	path, ok := entry.AuxData["server_path"].(string)
	if entry.Type != domain.ContentImage || !ok {
		respondDomainError(w, r, domain.ErrNotFound)
		return
	}

	data, ctype, err := h.images.Read(path)
	if err != nil {
		respondDomainError(w, r, domain.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
