package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// readinessTimeout bounds the dependency check behind /health/ready
const readinessTimeout = 2 * time.Second

// Pinger checks that a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves liveness and readiness probes
type SystemHandler struct {
	name      string
	version   string
	startTime time.Time
	db        Pinger
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, db Pinger) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		startTime: time.Now(),
		db:        db,
	}
}

// HealthResponse is the probe response body
type HealthResponse struct {
	Status    string `json:"status" example:"ok"`
	Name      string `json:"name,omitempty" example:"billing-core"`
	Version   string `json:"version,omitempty" example:"1.0.0"`
	GoVersion string `json:"go_version,omitempty" example:"go1.25.5"`
	Uptime    string `json:"uptime,omitempty" example:"1h30m45s"`
	Error     string `json:"error,omitempty"`
}

// Live godoc
// @ID           getHealthLive
// @Summary      Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health/live [get]
func (h *SystemHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready godoc
// @ID           getHealthReady
// @Summary      Readiness probe
// @Description  Reports ready once the database answers a ping
// @Tags         system
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health/ready [get]
func (h *SystemHandler) Ready(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
