package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/streaming"
)

// cameraHandlers serves `/camera/*` plus the WebRTC offer path, calling
// FrameProvider directly — see FrameRegistry's doc comment for why this
// bypasses Router.Execute.
type cameraHandlers struct {
	handler
	frames  FrameRegistry
	streams StreamServer
}

// mjpegInterval is the publish rate for GET /camera/stream, independent of
// streaming.frameInterval (the WebRTC track's own internal rate).
const mjpegInterval = 200 * time.Millisecond

func (h *cameraHandlers) provider(c *gin.Context) (FrameProvider, domain.DroneID, bool) {
	id, err := targetDrone(c)
	if err != nil {
		h.fail(c, err)
		return nil, "", false
	}
	if id == "" {
		h.badRequest(c, "drone_id query parameter is required")
		return nil, "", false
	}
	p, ok := h.frames.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: fmt.Sprintf("drone %q not found", id)})
		return nil, "", false
	}
	return p, id, true
}

func (h *cameraHandlers) streamStart(c *gin.Context) {
	p, _, ok := h.provider(c)
	if !ok {
		return
	}
	if err := p.StartStream(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, gin.H{"streaming": true})
}

func (h *cameraHandlers) streamStop(c *gin.Context) {
	p, _, ok := h.provider(c)
	if !ok {
		return
	}
	if err := p.StopStream(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, gin.H{"streaming": false})
}

// photo captures one CaptureFrame and hands it back JPEG-encoded, rather
// than writing it to a file path on the server the way a ground-station
// app would — there is no persistent media store, so the photo is the
// response body itself.
func (h *cameraHandlers) photo(c *gin.Context) {
	p, id, ok := h.provider(c)
	if !ok {
		return
	}
	frame, err := p.CaptureFrame(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	jpegBytes, err := streaming.EncodeJPEG(frame)
	if err != nil {
		h.fail(c, domain.NewHardwareError(domain.CodeSensorFault, "photo capture failed", err.Error()))
		return
	}
	c.Header("X-Drone-ID", string(id))
	c.Data(http.StatusOK, "image/jpeg", jpegBytes)
}

// videoStart/videoStop alias the same StartStream/StopStream toggle as
// stream start/stop — nothing in DroneCapability distinguishes a preview
// stream from a recorded one, since there's no storage layer behind
// either.
func (h *cameraHandlers) videoStart(c *gin.Context) { h.streamStart(c) }
func (h *cameraHandlers) videoStop(c *gin.Context)  { h.streamStop(c) }

type cameraSettingsRequest struct {
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
	Bitrate    int    `json:"bitrate"`
}

// settings accepts and echoes back resolution/fps/bitrate
// (`PUT /camera/settings`) without applying them to CaptureFrame's output
// — the Real/Simulated backends' Frame has no configurable encode path
// (real hardware gets whatever Tello's fixed-profile H.264 stream
// produces, simulated frames are synthetic solid-color buffers), so this
// is an accepted-but-not-applied compatibility endpoint.
func (h *cameraHandlers) settings(c *gin.Context) {
	var req cameraSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if _, _, ok := h.provider(c); !ok {
		return
	}
	h.success(c, gin.H{"applied": false, "resolution": req.Resolution, "fps": req.FPS, "bitrate": req.Bitrate})
}

func (h *cameraHandlers) stream(c *gin.Context) {
	p, id, ok := h.provider(c)
	if !ok {
		return
	}
	if err := streaming.WriteMJPEG(c.Request.Context(), c.Writer, p, mjpegInterval, h.logger); err != nil {
		h.logger.WithError(err).WithField("drone_id", id).Debug("httpapi: mjpeg stream ended")
	}
}

type webrtcOfferRequest struct {
	SDP  string `json:"sdp" binding:"required"`
	Type string `json:"type" binding:"required"`
}

func (h *cameraHandlers) webrtcOffer(c *gin.Context) {
	id, err := targetDrone(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if id == "" {
		h.badRequest(c, "drone_id query parameter is required")
		return
	}
	var req webrtcOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.NewSDPType(req.Type), SDP: req.SDP}
	answer, err := h.streams.HandleOffer(c.Request.Context(), id, offer)
	if err != nil {
		h.fail(c, domain.NewTransportError(domain.CodeUnreachable, "webrtc offer failed", err.Error()))
		return
	}
	h.success(c, gin.H{"sdp": answer.SDP, "type": answer.Type.String()})
}
