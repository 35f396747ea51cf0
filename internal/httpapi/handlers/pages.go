package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/podflix/internal/httpapi/middleware"
)

func (h *Handler) Root(c *gin.Context) {
	c.Redirect(http.StatusFound, "/home")
}

func (h *Handler) HomePage(c *gin.Context) {
	_, err := c.Cookie(middleware.TokenCookie)
	c.HTML(http.StatusOK, "home.html", gin.H{"SignedIn": err == nil})
}

func (h *Handler) LoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{"Error": c.Query("error")})
}

// ChatPage renders the chat UI. PageAuth has already checked the cookie.
func (h *Handler) ChatPage(c *gin.Context) {
	ident, _ := c.Get(middleware.IdentifierKey)
	c.HTML(http.StatusOK, "chat.html", gin.H{
		"Identifier":  ident,
		"AppType":     h.ChatSvc.AppType(),
		"Models":      h.ChatSvc.AvailableModels(),
		"MaxUploadMB": h.Cfg.MaxUploadMB,
	})
}
