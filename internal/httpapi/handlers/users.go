package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/podflix/internal/auth"
	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/httpapi/middleware"
	"github.com/suPer8Hu/podflix/internal/models"
)

type loginReq struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Login checks the configured account, upserts its users row and returns a
// token. The token is also set as a cookie for the browser pages.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBind(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "username and password required")
		return
	}

	user, err := h.Creds.Authenticate(c.Request.Context(), h.DB, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid username or password")
			return
		}
		h.fail(c, "login", err)
		return
	}

	token, err := auth.SignJWT(user.ID, user.Identifier, h.Cfg.JWTSecret, h.Cfg.TokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, int(h.Cfg.TokenTTL.Seconds()), "/", "", false, true)

	common.OK(c, gin.H{
		"id":         user.ID,
		"identifier": user.Identifier,
		"token":      token,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", false, true)
	if c.Request.Method == http.MethodGet {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	common.OK(c, nil)
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, uid).Error; err != nil {
		h.fail(c, "me", err)
		return
	}
	common.OK(c, gin.H{
		"id":         user.ID,
		"identifier": user.Identifier,
		"role":       user.Role,
		"app_type":   h.ChatSvc.AppType(),
		"created_at": user.CreatedAt,
	})
}
