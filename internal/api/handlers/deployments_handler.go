package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/api/middleware"
	"github.com/vmforge/engine/internal/api/types"
	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/orchestrator"
	"github.com/vmforge/engine/internal/services"
	"github.com/vmforge/engine/pkg/logger"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	// lines buffered per viewer before the broadcast drops them
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type DeploymentsHandler struct {
	deployments services.DeploymentService
	broadcast   *orchestrator.BroadcastRegistry
}

func NewDeploymentsHandler(deployments services.DeploymentService, broadcast *orchestrator.BroadcastRegistry) *DeploymentsHandler {
	return &DeploymentsHandler{deployments: deployments, broadcast: broadcast}
}

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	d, err := h.deployments.GetDeployment(r.Context(), id, middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	if err := h.deployments.CancelDeployment(r.Context(), id, middleware.GetTeamID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *DeploymentsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	logs, err := h.deployments.GetDeploymentLogs(r.Context(), id, middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: logs})
}

// StreamLogs upgrades to a websocket, replays the persisted log lines, and
// then forwards live lines until the viewer disconnects or the deployment
// stops producing. Slow viewers lose lines rather than stalling the
// deployment; the durable log list is the complete record.
func (h *DeploymentsHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	// ownership check and replay snapshot before the upgrade
	history, err := h.deployments.GetDeploymentLogs(r.Context(), id, middleware.GetTeamID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	lines := make(chan models.DeploymentLog, wsSendBuffer)
	token := h.broadcast.Register(id, func(line models.DeploymentLog) {
		select {
		case lines <- line:
		default:
		}
	})
	defer h.broadcast.Unregister(id, token)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, line := range history {
		if err := writeLine(conn, line); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case line := <-lines:
			if err := writeLine(conn, line); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeLine(conn *websocket.Conn, line models.DeploymentLog) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(line)
}
