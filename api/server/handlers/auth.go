package handlers

import (
	"net/http"

	"github.com/vocagent/vocagent/api/auth"
)

type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	user, err := h.svc.Register(r.Context(), req.Username, req.Password, req.InviteCode)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, map[string]string{"user_id": user.UUID}, http.StatusCreated)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	creds, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, map[string]string{
		"user_id":       creds.UserID,
		"auth_token":    creds.AuthToken,
		"message_token": creds.MessageToken,
	}, http.StatusOK)
}

type autoLoginRequest struct {
	Username  string `json:"username"`
	AuthToken string `json:"auth_token"`
}

func (h *AuthHandler) AutoLogin(w http.ResponseWriter, r *http.Request) {
	var req autoLoginRequest
	if err := decodeBody(r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	creds, err := h.svc.AutoLogin(r.Context(), req.Username, req.AuthToken)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, map[string]string{
		"user_id":       creds.UserID,
		"auth_token":    creds.AuthToken,
		"message_token": creds.MessageToken,
	}, http.StatusOK)
}
