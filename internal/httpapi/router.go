package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/auth"
	"github.com/suPer8Hu/podflix/internal/chat"
	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/httpapi/handlers"
	"github.com/suPer8Hu/podflix/internal/httpapi/middleware"
	"github.com/suPer8Hu/podflix/internal/httpapi/web"
	"github.com/suPer8Hu/podflix/internal/metrics"
)

func NewRouter(db *gorm.DB, cfg config.Config, svc *chat.Service, creds *auth.Credentials) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(otelgin.Middleware("podflix"))
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(metrics.Middleware())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.SetHTMLTemplate(web.Templates())
	r.StaticFS("/static", http.FS(web.Static()))

	h := handlers.NewHandler(db, cfg, svc, creds)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", metrics.Handler())

	// pages
	r.GET("/", h.Root)
	r.GET("/home", h.HomePage)
	r.GET("/login", h.LoginPage)
	r.GET("/chat", middleware.PageAuth(cfg.JWTSecret), h.ChatPage)

	// auth
	r.POST("/login", h.Login)
	r.GET("/logout", h.Logout)
	r.POST("/logout", h.Logout)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.POST("/chat/sessions/:session_id/resume", h.ResumeChatSession)
	authGroup.POST("/chat/sessions/:session_id/end", h.EndChatSession)
	authGroup.PUT("/chat/sessions/:session_id/settings", h.UpdateChatSettings)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/sessions/:session_id/audio", h.UploadAudio)
	authGroup.POST("/chat/sessions/:session_id/youtube", h.AttachYouTube)
	authGroup.GET("/chat/sessions/:session_id/transcript", h.GetTranscript)
	authGroup.GET("/chat/jobs/:job_id", h.GetJob)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/messages/stream", h.SendChatMessageStream)
	return r
}
