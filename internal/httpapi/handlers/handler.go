package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/auth"
	"github.com/suPer8Hu/podflix/internal/chat"
	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Creds   *auth.Credentials
}

func NewHandler(db *gorm.DB, cfg config.Config, svc *chat.Service, creds *auth.Credentials) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: svc, Creds: creds}
}

var log = logging.New("http")

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type apiError struct {
	status int
	code   int
	msg    string
}

// classify maps service errors to an HTTP status and envelope code.
func classify(err error) apiError {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apiError{http.StatusNotFound, 40004, "not found"}
	case errors.Is(err, chat.ErrNoTranscript):
		return apiError{http.StatusNotFound, 40405, "session has no transcript"}
	case errors.Is(err, chat.ErrRunInProgress):
		return apiError{http.StatusConflict, 40901, "a reply is still streaming for this session"}
	case errors.Is(err, chat.ErrSessionEnded):
		return apiError{http.StatusConflict, 40902, "session has ended"}
	case errors.Is(err, chat.ErrTranscriptRequired):
		return apiError{http.StatusConflict, 40903, err.Error()}
	case errors.Is(err, chat.ErrWrongAppType):
		return apiError{http.StatusBadRequest, 10010, "session does not accept media"}
	case errors.Is(err, chat.ErrUnknownAppType):
		return apiError{http.StatusBadRequest, 10002, err.Error()}
	case errors.Is(err, chat.ErrInvalidSettings):
		return apiError{http.StatusBadRequest, 10011, err.Error()}
	case errors.Is(err, transcript.ErrInvalidVideo):
		return apiError{http.StatusBadRequest, 10012, "not a youtube link"}
	case errors.Is(err, transcript.ErrSubtitlesUnavailable):
		return apiError{http.StatusUnprocessableEntity, 42201, "no subtitles in the requested language"}
	case errors.Is(err, transcript.ErrEmptyTranscript):
		return apiError{http.StatusUnprocessableEntity, 42202, "no speech recognized in the audio"}
	case errors.Is(err, chat.ErrAsyncDisabled):
		return apiError{http.StatusServiceUnavailable, 50301, "transcription queue unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, 50401, "upstream timeout"}
	default:
		return apiError{http.StatusInternalServerError, 50001, "internal error"}
	}
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	e := classify(err)
	if e.status >= 500 {
		log.WithError(err).WithField("op", op).WithField("request_id", c.GetString("request_id")).Error("request failed")
	}
	common.Fail(c, e.status, e.code, e.msg)
}
