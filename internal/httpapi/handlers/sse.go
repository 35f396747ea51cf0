package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const pingInterval = 15 * time.Second

// sseWriter frames server-sent events. It is the live message tokens are
// streamed into; writes are serialized with the heartbeat. Headers go out
// with the first event, so a request rejected up front still gets a plain
// JSON error.
type sseWriter struct {
	mu      sync.Mutex
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func newSSEWriter(c *gin.Context) (*sseWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, errors.New("flusher not supported")
	}
	return &sseWriter{c: c, flusher: flusher}, nil
}

func (s *sseWriter) begin() {
	if s.started {
		return
	}
	s.started = true
	s.c.Header("Content-Type", "text/event-stream")
	s.c.Header("Cache-Control", "no-cache")
	s.c.Header("Connection", "keep-alive")
	s.c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	s.c.Status(http.StatusOK)
}

// Started reports whether any event has been written.
func (s *sseWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *sseWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(`{"type":"error","message":"json marshal failed"}`)
		event = "error"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()
	if _, err := fmt.Fprintf(s.c.Writer, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) StreamToken(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.send("token", gin.H{"type": "token", "delta": text})
}

// heartbeat sends ping events until the returned func is called. The func
// may be called more than once.
func (s *sseWriter) heartbeat(every time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = s.send("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
