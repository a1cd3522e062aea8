package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// authHandlers serves the admin login route: check credentials, mint a
// token, return it. There is one fixed admin account sourced from
// config/env (ADMIN_USERNAME/ADMIN_PASSWORD), not a user table.
type authHandlers struct {
	handler
	issue    func(name, role string) (string, error)
	username string
	password string
}

func newAuthHandlers(h handler, username, password string, issue func(name, role string) (string, error)) *authHandlers {
	return &authHandlers{handler: h, issue: issue, username: username, password: password}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login checks the request against the single configured admin account and
// mints an admin-role JWT on success. Constant-time comparison avoids
// leaking which of username/password was wrong through timing.
func (h *authHandlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) == 1
	if h.username == "" || !userOK || !passOK {
		c.JSON(http.StatusUnauthorized, Response{Code: http.StatusUnauthorized, Message: "invalid username or password"})
		return
	}

	token, err := h.issue(req.Username, "admin")
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, loginResponse{Token: token})
}
