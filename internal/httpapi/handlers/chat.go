package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/chat"
	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/httpapi/middleware"
)

func userID(c *gin.Context) (uint64, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

type createSessionReq struct {
	AppType string `json:"app_type"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req.AppType)
	if err != nil {
		h.fail(c, "create session", err)
		return
	}
	st, _ := h.ChatSvc.State(c.Request.Context(), uid, sess.SessionID)

	common.OK(c, gin.H{
		"session_id":        sess.SessionID,
		"app_type":          sess.AppType,
		"model":             sess.Model,
		"trace_session_url": st.TraceSessionURL,
	})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid, limit)
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.ChatSvc.GetSession(ctx, uid, c.Param("session_id"))
	if err != nil {
		h.fail(c, "get session", err)
		return
	}
	out := gin.H{
		"session":          sess,
		"settings":         sess.GenerationSettings(),
		"available_models": h.ChatSvc.AvailableModels(),
	}
	if sess.EndedAt == nil {
		if st, err := h.ChatSvc.State(ctx, uid, sess.SessionID); err == nil {
			out["trace_session_url"] = st.TraceSessionURL
		}
	}
	common.OK(c, out)
}

func (h *Handler) ResumeChatSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	sess, err := h.ChatSvc.ResumeSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		h.fail(c, "resume session", err)
		return
	}
	common.OK(c, gin.H{"session": sess})
}

func (h *Handler) EndChatSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.EndSession(c.Request.Context(), uid, c.Param("session_id")); err != nil {
		h.fail(c, "end session", err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) UpdateChatSettings(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req ai.GenerationSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	settings, err := h.ChatSvc.UpdateSettings(c.Request.Context(), uid, c.Param("session_id"), req)
	if err != nil {
		h.fail(c, "update settings", err)
		return
	}
	common.OK(c, gin.H{"settings": settings})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	if err := h.ChatSvc.ValidateSessionOwner(c.Request.Context(), uid, sessionID); err != nil {
		h.fail(c, "list messages", err)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// discard satisfies relay.Message for the non-streaming endpoint.
type discard struct{}

func (discard) StreamToken(context.Context, string) error { return nil }

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, req.SessionID, req.Message, discard{})
	if err != nil {
		h.fail(c, "send message", err)
		return
	}

	common.OK(c, gin.H{
		"session_id": req.SessionID,
		"reply":      res.Reply,
		"message_id": res.AssistantMsgID,
		"run_id":     res.RunID,
		"trace_url":  res.TraceURL,
	})
}

func (h *Handler) SendChatMessageStream(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sse, err := newSSEWriter(c)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming not supported")
		return
	}
	stop := sse.heartbeat(pingInterval)
	defer stop()

	ctx := c.Request.Context()
	res, err := h.ChatSvc.SendMessage(ctx, uid, req.SessionID, req.Message, sse)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// client went away
			return
		}
		stop()
		if !sse.Started() {
			h.fail(c, "send message", err)
			return
		}
		e := classify(err)
		if e.status >= 500 {
			log.WithError(err).WithField("session_id", req.SessionID).Error("stream failed")
		}
		msg := e.msg
		if e.status >= 500 {
			msg = "failed to generate a reply"
		}
		sse.send("error", gin.H{"type": "error", "code": e.code, "message": msg})
		return
	}

	sse.send("done", gin.H{
		"type":       "done",
		"message_id": res.AssistantMsgID,
		"run_id":     res.RunID,
		"trace_url":  res.TraceURL,
	})
}

func (h *Handler) UploadAudio(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	maxBytes := int64(h.Cfg.MaxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "multipart field \"file\" required")
		return
	}
	if fh.Size > maxBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "file too large")
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		common.Fail(c, http.StatusUnsupportedMediaType, 41501, "audio file required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "cannot read upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "cannot read upload")
		return
	}

	res, err := h.ChatSvc.AttachAudio(c.Request.Context(), uid, c.Param("session_id"), chat.AudioUpload{
		FileName:       fh.Filename,
		ContentType:    contentType,
		Data:           data,
		IdempotencyKey: idempoKey,
	})
	if err != nil {
		h.fail(c, "upload audio", err)
		return
	}
	if res.Job != nil {
		c.JSON(http.StatusAccepted, gin.H{"code": 0, "message": "queued", "data": res})
		return
	}
	common.OK(c, res)
}

type youtubeReq struct {
	URL      string `json:"url" binding:"required"`
	Language string `json:"language"`
}

func (h *Handler) AttachYouTube(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req youtubeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	t, err := h.ChatSvc.AttachYouTube(c.Request.Context(), uid, c.Param("session_id"), req.URL, req.Language)
	if err != nil {
		h.fail(c, "attach youtube", err)
		return
	}
	common.OK(c, gin.H{"transcript": t})
}

func (h *Handler) GetTranscript(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	row, err := h.ChatSvc.GetTranscript(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		h.fail(c, "get transcript", err)
		return
	}
	decoded, err := row.Decode()
	if err != nil {
		h.fail(c, "decode transcript", err)
		return
	}
	common.OK(c, gin.H{
		"id":         row.ID,
		"source":     row.Source,
		"source_ref": row.SourceRef,
		"media_url":  row.MediaURL,
		"text":       decoded.Text,
		"segments":   decoded.Segments,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	j, err := h.ChatSvc.GetJob(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.fail(c, "get job", err)
		return
	}
	common.OK(c, gin.H{"job": j})
}
