package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vmforge/engine/internal/api/middleware"
	"github.com/vmforge/engine/internal/api/types"
	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/services"
)

type AssetsHandler struct {
	assets services.AssetService
}

func NewAssetsHandler(assets services.AssetService) *AssetsHandler {
	return &AssetsHandler{assets: assets}
}

func (h *AssetsHandler) CreateSSHKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.PublicKey == "" {
		writeErrorStr(w, http.StatusBadRequest, "name and public_key are required")
		return
	}
	key, err := h.assets.CreateSSHKey(r.Context(), middleware.GetTeamID(r.Context()), req.Name, req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: key})
}

func (h *AssetsHandler) SyncSSHKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid ssh key id")
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.assets.MarkSSHKeySynced(r.Context(), middleware.GetTeamID(r.Context()), id, req.Provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *AssetsHandler) DeleteSSHKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid ssh key id")
		return
	}
	if err := h.assets.DeleteSSHKey(r.Context(), middleware.GetTeamID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *AssetsHandler) CreateFirewallProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string               `json:"name"`
		Rules []models.InboundRule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		writeErrorStr(w, http.StatusBadRequest, "name is required")
		return
	}
	profile, err := h.assets.CreateFirewallProfile(r.Context(), middleware.GetTeamID(r.Context()), req.Name, req.Rules)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: profile})
}

func (h *AssetsHandler) ListFirewallProfiles(w http.ResponseWriter, r *http.Request) {
	items, err := h.assets.ListFirewallProfiles(r.Context(), middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *AssetsHandler) DeleteFirewallProfile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid firewall profile id")
		return
	}
	if err := h.assets.DeleteFirewallProfile(r.Context(), middleware.GetTeamID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *AssetsHandler) CreateBootstrapTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		UserData string `json:"user_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		writeErrorStr(w, http.StatusBadRequest, "name is required")
		return
	}
	tpl, err := h.assets.CreateBootstrapTemplate(r.Context(), middleware.GetTeamID(r.Context()), req.Name, req.UserData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: tpl})
}

func (h *AssetsHandler) DeleteBootstrapTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid bootstrap template id")
		return
	}
	if err := h.assets.DeleteBootstrapTemplate(r.Context(), middleware.GetTeamID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}
