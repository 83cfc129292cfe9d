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

type MachinesHandler struct {
	machines    services.MachineService
	deployments services.DeploymentService
	validate    interface{ Struct(any) error }
}

func NewMachinesHandler(machines services.MachineService, deployments services.DeploymentService, v interface{ Struct(any) error }) *MachinesHandler {
	return &MachinesHandler{machines: machines, deployments: deployments, validate: v}
}

func (h *MachinesHandler) List(w http.ResponseWriter, r *http.Request) {
	teamID := middleware.GetTeamID(r.Context())
	items, err := h.machines.ListMachines(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *MachinesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateMachineInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	teamID := middleware.GetTeamID(r.Context())
	m, d, err := h.machines.CreateMachine(r.Context(), teamID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: map[string]any{
		"machine":    m,
		"deployment": d,
	}})
}

func (h *MachinesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	m, err := h.machines.GetMachine(r.Context(), id, middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: m})
}

// Act queues a lifecycle deployment for the machine; the body selects the
// deployment type.
func (h *MachinesHandler) Act(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}

	d, err := h.deployments.RequestDeployment(r.Context(), id, middleware.GetTeamID(r.Context()), models.DeploymentType(req.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: d})
}

func (h *MachinesHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	items, err := h.deployments.ListDeployments(r.Context(), id, middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}
