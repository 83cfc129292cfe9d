package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vmforge/engine/internal/api/middleware"
	"github.com/vmforge/engine/internal/api/types"
	"github.com/vmforge/engine/internal/services"
)

type AccountsHandler struct {
	credentials services.CredentialService
}

func NewAccountsHandler(credentials services.CredentialService) *AccountsHandler {
	return &AccountsHandler{credentials: credentials}
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.credentials.ListAccounts(r.Context(), middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *AccountsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string            `json:"provider"`
		Name        string            `json:"name"`
		Credentials map[string]string `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Provider == "" || req.Name == "" {
		writeErrorStr(w, http.StatusBadRequest, "provider and name are required")
		return
	}

	account, err := h.credentials.ConnectAccount(r.Context(), middleware.GetTeamID(r.Context()), req.Provider, req.Name, req.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: account})
}

func (h *AccountsHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req struct {
		Credentials map[string]string `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.credentials.RotateCredentials(r.Context(), middleware.GetTeamID(r.Context()), id, req.Credentials); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *AccountsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := h.credentials.VerifyAccount(r.Context(), middleware.GetTeamID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *AccountsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := h.credentials.DisconnectAccount(r.Context(), middleware.GetTeamID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *AccountsHandler) OAuthBegin(w http.ResponseWriter, r *http.Request) {
	state, authorizeURL, err := h.credentials.BeginOAuth(r.Context(), middleware.GetTeamID(r.Context()), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{
		"state":         state,
		"authorize_url": authorizeURL,
	}})
}

func (h *AccountsHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State       string `json:"state"`
		AccessToken string `json:"access_token"`
		Name        string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		req.Name = "oauth account"
	}
	account, err := h.credentials.CompleteOAuth(r.Context(), req.State, req.AccessToken, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: account})
}
