package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Response is the unified envelope every handler writes: code, message,
// optional data, and a unix timestamp.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Time    int64       `json:"time"`
}

// handler bundles the response helpers every route handler in this package
// uses.
type handler struct {
	logger *logger.Logger
}

func (h *handler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data, Time: time.Now().Unix()})
}

func (h *handler) respond(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message, Time: time.Now().Unix()})
}

func (h *handler) badRequest(c *gin.Context, message string) { h.respond(c, http.StatusBadRequest, message) }

// fail writes the HTTP status that corresponds to a *domain.Error's Kind,
// with the structured error body a caller needs to decide on a
// RecoveryAction. Non-domain errors (should not normally reach a handler)
// fall back to 500.
func (h *handler) fail(c *gin.Context, err error) {
	fe, ok := domain.AsFleetError(err)
	if !ok {
		h.logger.WithError(err).Error("httpapi: non-domain error reached handler")
		c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: "internal error", Time: time.Now().Unix()})
		return
	}
	status := errStatus(fe)
	c.JSON(status, Response{
		Code:    status,
		Message: fe.UserMessage,
		Data: gin.H{
			"kind":             fe.Kind,
			"code":             fe.Code,
			"technicalMessage": fe.TechnicalMessage,
			"suggestions":      fe.Suggestions,
			"recoveryActions":  fe.RecoveryActions,
		},
		Time: time.Now().Unix(),
	})
}

// errStatus maps a *domain.Error's Kind onto an HTTP status: 400 Validation,
// 409 State, 403 Security, 503 System, 504 Transport timeout, 500
// Hardware/Internal. Safety has no single obvious status; 422 Unprocessable
// Entity is the closest idiomatic fit — the request was well-formed but
// rejected on semantic (bounds/battery/velocity) grounds, the same
// distinction 422 draws from 400 everywhere else it's used.
func errStatus(fe *domain.Error) int {
	switch fe.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindSafety:
		return http.StatusUnprocessableEntity
	case domain.KindTransport:
		if fe.Code == domain.CodeTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case domain.KindHardware:
		return http.StatusInternalServerError
	case domain.KindSecurity:
		return http.StatusForbidden
	case domain.KindSystem:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
