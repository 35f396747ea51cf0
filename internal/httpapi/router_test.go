package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/auth"
	"github.com/suPer8Hu/podflix/internal/chat"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/db"
	"github.com/suPer8Hu/podflix/internal/flows"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fakeYouTube struct{}

func (fakeYouTube) Fetch(context.Context, string, string) (transcript.Transcript, error) {
	return transcript.Transcript{
		Text:     "We talk about guitars",
		Segments: []transcript.Segment{{ID: 0, Start: 0, End: 2, Text: "We talk about guitars"}},
	}, nil
}

type testServer struct {
	r     *gin.Engine
	svc   *chat.Service
	db    *gorm.DB
	token string
}

func newTestServer(t *testing.T, appType string) *testServer {
	t.Helper()
	d, err := db.NewDescriptor(db.Options{Kind: db.KindSQLite, Path: filepath.Join(t.TempDir(), "http.db")})
	require.NoError(t, err)
	require.NoError(t, db.NewManager(d).Initialize(context.Background()))
	gdb, err := db.Connect(d.AsyncConnectionString())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })

	reg := ai.NewRegistry()
	reg.Register("mock", func(ctx context.Context, model string, s ai.GenerationSettings) (ai.Provider, error) {
		return &ai.MockProvider{Prefix: "echo: "}, nil
	})

	cfg := config.Config{
		AppType:     appType,
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
		MaxUploadMB: 1,
	}
	svc := chat.NewService(chat.Deps{
		Repo:     chat.NewRepo(gdb),
		Registry: reg,
		YouTube:  fakeYouTube{},
	}, chat.Options{
		AppType:  appType,
		Provider: "mock",
		Model:    "local-model",
		MockPick: func(int) int { return 0 },
	})
	creds, err := auth.NewCredentials("admin", "pw")
	require.NoError(t, err)

	return &testServer{r: NewRouter(gdb, cfg, svc, creds), svc: svc, db: gdb}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (s *testServer) login(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	decode(t, w, &out)
	require.NotEmpty(t, out.Token)
	s.token = out.Token
}

func (s *testServer) createSession(t *testing.T, appType string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/chat/sessions", map[string]string{"app_type": appType})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		SessionID string `json:"session_id"`
	}
	decode(t, w, &out)
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

type sseEvent struct {
	name string
	data map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	var cur sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func TestRouter_PingAndNoRoute(t *testing.T) {
	s := newTestServer(t, config.AppTypeMock)

	w := s.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, decode(t, w, nil).Code)

	w = s.do(t, http.MethodDelete, "/ping", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_LoginRequiredForAPI(t *testing.T) {
	s := newTestServer(t, config.AppTypeMock)

	w := s.do(t, http.MethodPost, "/chat/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40102, decode(t, w, nil).Code)

	s.login(t)
	w = s.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Identifier string `json:"identifier"`
		AppType    string `json:"app_type"`
	}
	decode(t, w, &me)
	assert.Equal(t, "admin", me.Identifier)
	assert.Equal(t, config.AppTypeMock, me.AppType)
}

func TestRouter_PagesRedirect(t *testing.T) {
	s := newTestServer(t, config.AppTypeMock)

	w := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/home", w.Header().Get("Location"))

	w = s.do(t, http.MethodGet, "/home", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Podflix")

	w = s.do(t, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	s.login(t)
	w = s.do(t, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `data-app-type="mock"`)
}

func TestRouter_StreamMessage(t *testing.T) {
	s := newTestServer(t, config.AppTypeMock)
	s.login(t)
	sid := s.createSession(t, "")

	w := s.do(t, http.MethodPost, "/chat/messages/stream", map[string]string{"session_id": sid, "message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	require.NotEmpty(t, events)

	var reply strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, "token", ev.name)
		reply.WriteString(ev.data["delta"].(string))
	}
	assert.Equal(t, flows.MockResponses[0], reply.String())

	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	assert.NotEmpty(t, last.data["run_id"])
	assert.NotZero(t, last.data["message_id"])

	w = s.do(t, http.MethodGet, "/chat/sessions/"+sid+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decode(t, w, &page)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, flows.MockResponses[0], page.Messages[0].Content)
	assert.Equal(t, "hi", page.Messages[1].Content)
}

func TestRouter_StreamRejectsUpFrontErrorsAsJSON(t *testing.T) {
	s := newTestServer(t, config.AppTypeAudio)
	s.login(t)
	sid := s.createSession(t, config.AppTypeAudio)

	w := s.do(t, http.MethodPost, "/chat/messages/stream", map[string]string{"session_id": sid, "message": "what?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 40903, decode(t, w, nil).Code)

	w = s.do(t, http.MethodPost, "/chat/messages/stream", map[string]string{"session_id": "missing", "message": "what?"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40004, decode(t, w, nil).Code)

	w = s.do(t, http.MethodPost, "/chat/sessions/"+sid+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/chat/messages/stream", map[string]string{"session_id": sid, "message": "what?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40902, decode(t, w, nil).Code)
}

func TestRouter_StreamRejectsOverlappingRun(t *testing.T) {
	s := newTestServer(t, config.AppTypeMock)
	s.login(t)
	sid := s.createSession(t, "")

	release, err := s.svc.Sessions.Acquire(context.Background(), sid)
	require.NoError(t, err)
	defer release()

	w := s.do(t, http.MethodPost, "/chat/messages/stream", map[string]string{"session_id": sid, "message": "hi"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40901, decode(t, w, nil).Code)
}

func TestRouter_SendMessageNonStreaming(t *testing.T) {
	s := newTestServer(t, config.AppTypeBaseChat)
	s.login(t)
	sid := s.createSession(t, config.AppTypeBaseChat)

	w := s.do(t, http.MethodPost, "/chat/messages", map[string]string{"session_id": sid, "message": "hello there"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Reply string `json:"reply"`
		RunID string `json:"run_id"`
	}
	decode(t, w, &out)
	assert.Equal(t, "echo: hello there", out.Reply)
	assert.NotEmpty(t, out.RunID)

	w = s.do(t, http.MethodPost, "/chat/messages", map[string]string{"session_id": "missing", "message": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_YouTubeThenTranscript(t *testing.T) {
	s := newTestServer(t, config.AppTypeAudio)
	s.login(t)
	sid := s.createSession(t, config.AppTypeAudio)

	w := s.do(t, http.MethodGet, "/chat/sessions/"+sid+"/transcript", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/chat/sessions/"+sid+"/youtube", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/chat/sessions/"+sid+"/transcript", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tr struct {
		Source string `json:"source"`
		Text   string `json:"text"`
	}
	decode(t, w, &tr)
	assert.Equal(t, "We talk about guitars", tr.Text)
}

func TestRouter_UploadRejectsNonAudio(t *testing.T) {
	s := newTestServer(t, config.AppTypeAudio)
	s.login(t)
	sid := s.createSession(t, config.AppTypeAudio)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="notes.txt"`)
	h.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chat/sessions/"+sid+"/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_SettingsAndEnd(t *testing.T) {
	s := newTestServer(t, config.AppTypeBaseChat)
	s.login(t)
	sid := s.createSession(t, config.AppTypeBaseChat)

	w := s.do(t, http.MethodPut, "/chat/sessions/"+sid+"/settings", map[string]any{"temperature": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10011, decode(t, w, nil).Code)

	w = s.do(t, http.MethodPut, "/chat/sessions/"+sid+"/settings", map[string]any{"temperature": 0.2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/chat/sessions/"+sid+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/chat/messages", map[string]string{"session_id": sid, "message": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40902, decode(t, w, nil).Code)

	w = s.do(t, http.MethodPost, "/chat/sessions/"+sid+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/chat/messages", map[string]string{"session_id": sid, "message": "x"})
	assert.Equal(t, http.StatusOK, w.Code)
}
