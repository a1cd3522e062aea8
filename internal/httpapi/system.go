package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// systemHandlers serves discovery and process-health endpoints.
type systemHandlers struct {
	handler
	discovery Discovery
	registry  Registry
	router    Router
	startedAt time.Time
}

// analytics serves `GET /api/system/analytics`, the rolling execution
// window CommandRouter accumulates.
func (h *systemHandlers) analytics(c *gin.Context) {
	h.success(c, h.router.Analytics())
}

func (h *systemHandlers) detect(c *gin.Context) {
	drones, err := h.discovery.Scan(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, gin.H{"drones": drones})
}

func (h *systemHandlers) snapshot(c *gin.Context) {
	h.success(c, gin.H{"drones": h.discovery.Snapshot()})
}

type autoScanRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (h *systemHandlers) autoScanStart(c *gin.Context) {
	var req autoScanRequest
	_ = c.ShouldBindJSON(&req)
	if req.IntervalSeconds <= 0 {
		req.IntervalSeconds = 60
	}
	if err := h.discovery.StartAutoScan(c.Request.Context(), req.IntervalSeconds); err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, gin.H{"auto_scan_running": true, "interval_seconds": req.IntervalSeconds})
}

func (h *systemHandlers) autoScanStop(c *gin.Context) {
	h.discovery.StopAutoScan()
	h.success(c, gin.H{"auto_scan_running": false})
}

// health reports liveness plus a shallow view of fleet size, for
// container orchestrators and cmd/fleetctl's own --health-check flag to
// probe over HTTP.
func (h *systemHandlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"drones_registered": h.registry.Count(),
		"auto_scan_running":  h.discovery.AutoScanRunning(),
	})
}
